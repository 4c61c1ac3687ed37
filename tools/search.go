package tools

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/conductor/errors"
)

// MaxGrepLines caps Grep output.
const MaxGrepLines = 100

// GlobTool finds files by doublestar pattern.
type GlobTool struct {
	env *Env
}

func (t *GlobTool) Name() string { return "Glob" }
func (t *GlobTool) Description() string {
	return "Fast file pattern matching. Use to find files by name patterns. Examples: '**/*.go' (all Go files), 'src/**/*.ts' (TypeScript in src), 'test_*.py' (Python test files)."
}

func (t *GlobTool) Parameters() map[string]any {
	return schema([]string{"pattern"}, map[string]map[string]any{
		"pattern": prop("string", "Glob pattern to match files against"),
		"path":    prop("string", "Directory to search in. Defaults to current directory."),
	})
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringParam(args, "pattern", "")
	base := stringParam(args, "path", ".")
	if pattern == "" {
		return "", failf("Error: pattern is required")
	}
	if err := t.env.outside(base, "search"); err != nil {
		return "", err
	}

	matches, err := doublestar.Glob(os.DirFS(t.env.abs(base)), pattern)
	if err != nil {
		return "", failf("Error in glob pattern: %v", err)
	}
	var results []string
	for _, m := range matches {
		if t.env.ignored(m) {
			continue
		}
		display := m
		if base != "." {
			display = strings.TrimRight(base, "/") + "/" + m
		}
		if t.env.hidden(display) != nil {
			continue
		}
		results = append(results, display)
	}
	if len(results) == 0 {
		return "No matching files found", nil
	}
	sort.Strings(results)
	return strings.Join(results, "\n"), nil
}

// GrepTool searches file contents by regular expression.
type GrepTool struct {
	env *Env
}

func (t *GrepTool) Name() string { return "Grep" }
func (t *GrepTool) Description() string {
	return "Search for text patterns in files. Returns matching lines with file paths and line numbers. Use for finding code, function definitions, usages, etc."
}

func (t *GrepTool) Parameters() map[string]any {
	return schema([]string{"pattern"}, map[string]map[string]any{
		"pattern":       prop("string", "Text or regex pattern to search for"),
		"path":          prop("string", "File or directory to search in. Defaults to current directory."),
		"include":       prop("string", "Only search files matching this glob pattern (e.g., '*.go', '*.py')"),
		"context_lines": prop("integer", "Number of context lines to show before and after each match"),
	})
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringParam(args, "pattern", stringParam(args, "query", ""))
	path := stringParam(args, "path", ".")
	include := stringParam(args, "include", "")
	contextLines, _ := intParam(args, "context_lines")
	if pattern == "" {
		return "", failf("Error: pattern is required")
	}
	if err := t.env.outside(path, "search"); err != nil {
		return "", err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}

	root := t.env.abs(path)
	var out []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(root, p)
		if p != root && t.env.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if include != "" {
			if ok, _ := doublestar.Match(include, d.Name()); !ok {
				return nil
			}
		}
		display := filepath.Join(path, rel)
		if t.env.hidden(display) != nil {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || isBinary(data) {
			return nil
		}
		out = append(out, grepLines(display, splitLines(string(data)), re, max(contextLines, 0), len(out) > 0)...)
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "search interrupted")
	}

	if len(out) == 0 {
		return "No matches found", nil
	}
	if len(out) > MaxGrepLines {
		return fmt.Sprintf("%s\n\n... %d more lines (showing first %d)", strings.Join(out[:MaxGrepLines], "\n"), len(out)-MaxGrepLines, MaxGrepLines), nil
	}
	return strings.Join(out, "\n"), nil
}

// grepLines renders one file's matches in grep's "name:line:text" form,
// with context lines as "name-line-text" and "--" between separate blocks.
func grepLines(name string, lines []string, re *regexp.Regexp, contextLines int, separate bool) []string {
	type block struct{ start, end int }
	var blocks []block
	matched := map[int]bool{}
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		matched[i] = true
		start := max(i-contextLines, 0)
		end := min(i+contextLines, len(lines)-1)
		if n := len(blocks); n > 0 && start <= blocks[n-1].end+1 {
			blocks[n-1].end = max(blocks[n-1].end, end)
			continue
		}
		blocks = append(blocks, block{start, end})
	}

	var out []string
	for bi, b := range blocks {
		if contextLines > 0 && (bi > 0 || separate) {
			out = append(out, "--")
		}
		for i := b.start; i <= b.end; i++ {
			sep := "-"
			if matched[i] {
				sep = ":"
			}
			out = append(out, fmt.Sprintf("%s%s%d%s%s", name, sep, i+1, sep, lines[i]))
		}
	}
	return out
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0
}
