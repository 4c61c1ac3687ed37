package tools

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-logr/logr"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/transaction"
)

// IgnoreFileName lists patterns Glob and Grep skip, one per line.
const IgnoreFileName = ".conductorignore"

// DefaultIgnore applies when no ignore file exists.
var DefaultIgnore = []string{".git", "node_modules", "target", "__pycache__", ".venv", "venv", "*.log", ".*"}

// Env is the working context shared by the builtin tools.
type Env struct {
	// Dir resolves relative paths.
	Dir string
	// Store tracks mutations. Its root, when set, is the sandbox.
	Store  *transaction.Store
	Access config.FilesystemAccess
	Ignore []string
	Log    logr.Logger
}

// NewEnv builds an Env rooted at dir, reading dir's ignore file.
func NewEnv(dir string, store *transaction.Store, access config.FilesystemAccess, log logr.Logger) *Env {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if store == nil {
		store = transaction.NewStore("")
	}
	return &Env{Dir: dir, Store: store, Access: access, Ignore: LoadIgnore(dir), Log: log}
}

func (e *Env) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.Dir, path)
}

// outside reports whether path escapes the sandbox, formatting the refusal
// with verb ("read files", "search", ...).
func (e *Env) outside(path, verb string) error {
	root := e.Store.Root()
	if root == "" || e.Store.Contains(e.abs(path)) {
		return nil
	}
	return failf("Error: Cannot %s outside of %s", verb, root)
}

// rel is path relative to Dir in slash form, for access rule matching.
func (e *Env) rel(path string) string {
	abs := e.abs(path)
	if r, err := filepath.Rel(e.Dir, abs); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(abs)
}

func (e *Env) hidden(path string) error {
	restricted, err := isPathRestricted(e.rel(path), e.Access.Hidden)
	if err != nil {
		return failf("Error: %v", err)
	}
	if restricted {
		return failf("Error: Access denied: %s is hidden", path)
	}
	return nil
}

func (e *Env) readOnly(path string) error {
	if err := e.hidden(path); err != nil {
		return err
	}
	restricted, err := isPathRestricted(e.rel(path), e.Access.ReadOnly)
	if err != nil {
		return failf("Error: %v", err)
	}
	if restricted {
		return failf("Error: Access denied: %s is read-only", path)
	}
	return nil
}

// ignored reports whether any component of path matches an ignore pattern.
func (e *Env) ignored(path string) bool {
	return shouldIgnore(path, e.Ignore)
}

func shouldIgnore(path string, patterns []string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		for _, pattern := range patterns {
			if part == pattern {
				return true
			}
			if pattern == ".*" && strings.HasPrefix(part, ".") {
				return true
			}
			if strings.ContainsAny(pattern, "*?[") {
				if ok, _ := doublestar.Match(pattern, part); ok {
					return true
				}
			}
		}
	}
	return false
}

// LoadIgnore reads dir's ignore file, falling back to DefaultIgnore.
func LoadIgnore(dir string) []string {
	f, err := os.Open(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return append([]string(nil), DefaultIgnore...)
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

const defaultIgnoreFile = `# conductor ignore patterns
# Lines starting with # are comments

# Hidden files/directories
.git
.*

# Build directories
target
node_modules
__pycache__
.venv
venv

# Log files
*.log
`

// WriteDefaultIgnore creates dir's ignore file. It reports false when the
// file already exists.
func WriteDefaultIgnore(dir string) (bool, error) {
	path := filepath.Join(dir, IgnoreFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(defaultIgnoreFile), 0o644); err != nil {
		return false, errors.Wrapf(err, "failed to write %s", path)
	}
	return true, nil
}
