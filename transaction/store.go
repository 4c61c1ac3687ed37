// Package transaction tracks file mutations made during one conversation
// turn so they can be undone if the turn fails.
//
// The first time a path is touched inside a transaction its prior state is
// snapshotted; later touches of the same path keep that first snapshot.
// Rollback restores every snapshot, deleting files that did not exist when
// the transaction began. Commit forgets them.
package transaction

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/m4xw311/conductor/errors"
)

var (
	ErrActive         = errors.Sentinel("a transaction is already active")
	ErrOutsideSandbox = errors.Sentinel("path is outside the sandbox root")
)

// Snapshot is the pre-transaction state of one path.
type Snapshot struct {
	Path    string
	Existed bool
	Content []byte
	Mode    fs.FileMode
}

type transaction struct {
	snapshots map[string]Snapshot
	order     []string
	modified  map[string]bool
}

// Store owns at most one open transaction. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	root    string
	current *transaction
}

// NewStore returns a store confining mutations to root. An empty root
// disables the sandbox check.
func NewStore(root string) *Store {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &Store{root: root}
}

// Root is the sandbox directory, or "" when unrestricted.
func (s *Store) Root() string { return s.root }

// Begin opens a transaction. Only one may be open at a time.
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrActive
	}
	s.current = &transaction{snapshots: map[string]Snapshot{}, modified: map[string]bool{}}
	return nil
}

// Active reports whether a transaction is open.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Prepare snapshots path if this is the first time the open transaction
// sees it. Without an open transaction only the sandbox check runs.
func (s *Store) Prepare(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.prepareLocked(path)
	return err
}

func (s *Store) prepareLocked(path string) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if s.current == nil {
		return abs, nil
	}
	if _, seen := s.current.snapshots[abs]; seen {
		return abs, nil
	}
	snap := Snapshot{Path: abs}
	info, err := os.Stat(abs)
	switch {
	case err == nil:
		content, readErr := os.ReadFile(abs)
		if readErr != nil {
			return "", errors.Wrapf(readErr, "could not snapshot %s", abs)
		}
		snap.Existed = true
		snap.Content = content
		snap.Mode = info.Mode().Perm()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", errors.Wrapf(err, "could not stat %s", abs)
	}
	s.current.snapshots[abs] = snap
	s.current.order = append(s.current.order, abs)
	return abs, nil
}

// Execute snapshots path, runs fn, and marks path modified. fn's own result
// and error are returned unchanged.
func Execute[R any](s *Store, path string, fn func() (R, error)) (R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero R
	abs, err := s.prepareLocked(path)
	if err != nil {
		return zero, err
	}
	res, err := fn()
	if s.current != nil {
		s.current.modified[abs] = true
	}
	return res, err
}

// Do is Execute for mutations without a result.
func (s *Store) Do(path string, fn func() error) error {
	_, err := Execute(s, path, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Rollback restores every snapshot in reverse order and closes the
// transaction. Restore failures are collected; every path is attempted.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.current
	s.current = nil
	if tx == nil {
		return nil
	}
	var result *multierror.Error
	for i := len(tx.order) - 1; i >= 0; i-- {
		if err := restore(tx.snapshots[tx.order[i]]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Commit discards the snapshots and closes the transaction.
func (s *Store) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Paths lists the snapshotted paths in first-touch order.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return append([]string(nil), s.current.order...)
}

// Status is a one-line summary for status bars.
func (s *Store) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "No active transaction"
	}
	return fmt.Sprintf("Transaction active: %d files tracked, %d modified", len(s.current.order), len(s.current.modified))
}

// Contains reports whether path lies inside the sandbox root.
func (s *Store) Contains(path string) bool {
	_, err := s.resolve(path)
	return err == nil
}

func (s *Store) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if !filepath.IsAbs(path) && s.root != "" {
		path = filepath.Join(s.root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not resolve %s", path)
	}
	if s.root == "" {
		return abs, nil
	}
	resolved := evalExisting(abs)
	if !within(s.root, resolved) && !within(evalExisting(s.root), resolved) {
		return "", ErrOutsideSandbox
	}
	return abs, nil
}

// evalExisting resolves symlinks on the longest existing prefix of path,
// falling back through parent directories for files not created yet.
func evalExisting(path string) string {
	rest := ""
	for cur := path; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func restore(snap Snapshot) error {
	if !snap.Existed {
		if err := os.Remove(snap.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "could not remove %s", snap.Path)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(snap.Path), 0o755); err != nil {
		return errors.Wrapf(err, "could not recreate directory for %s", snap.Path)
	}
	mode := snap.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(snap.Path, snap.Content, mode); err != nil {
		return errors.Wrapf(err, "could not restore %s", snap.Path)
	}
	return nil
}
