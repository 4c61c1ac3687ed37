package transaction

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRollbackRestoresExactState(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "main.go")
	created := filepath.Join(root, "pkg", "new.go")
	write(t, existing, "package main\n")

	s := NewStore(root)
	require.NoError(t, s.Begin())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Do(existing, func() error {
			return os.WriteFile(existing, []byte(fmt.Sprintf("edit %d", i)), 0o644)
		}))
	}
	require.NoError(t, s.Do(created, func() error {
		require.NoError(t, os.MkdirAll(filepath.Dir(created), 0o755))
		return os.WriteFile(created, []byte("new"), 0o644)
	}))
	assert.Equal(t, []string{existing, created}, s.Paths())

	require.NoError(t, s.Rollback())

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
	_, err = os.Stat(created)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, s.Active())
}

func TestFirstSnapshotWins(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	write(t, path, "original")

	s := NewStore(root)
	require.NoError(t, s.Begin())
	require.NoError(t, s.Prepare(path))
	write(t, path, "changed outside")
	require.NoError(t, s.Prepare(path))
	require.NoError(t, s.Rollback())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestCommitKeepsChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")

	s := NewStore(root)
	require.NoError(t, s.Begin())
	require.NoError(t, s.Do(path, func() error { return os.WriteFile(path, []byte("kept"), 0o644) }))
	s.Commit()
	require.NoError(t, s.Rollback(), "rollback without a transaction is a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
}

func TestExecuteReturnsMutationResult(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	require.NoError(t, s.Begin())
	defer s.Commit()

	n, err := Execute(s, "relative.txt", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, []string{filepath.Join(s.Root(), "relative.txt")}, s.Paths())

	_, err = Execute(s, "other.txt", func() (int, error) { return 0, fmt.Errorf("disk full") })
	assert.EqualError(t, err, "disk full")
	assert.Contains(t, s.Status(), "2 files tracked, 2 modified")
}

func TestSingleActiveTransaction(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Begin())
	assert.ErrorIs(t, s.Begin(), ErrActive)
	s.Commit()
	assert.NoError(t, s.Begin())
	assert.Equal(t, "Transaction active: 0 files tracked, 0 modified", s.Status())
	s.Commit()
	assert.Equal(t, "No active transaction", s.Status())
}

func TestSandbox(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	require.NoError(t, s.Begin())
	defer s.Commit()

	assert.ErrorIs(t, s.Prepare(filepath.Join(root, "..", "escape.txt")), ErrOutsideSandbox)
	assert.ErrorIs(t, s.Prepare("../escape.txt"), ErrOutsideSandbox)
	assert.NoError(t, s.Prepare(filepath.Join(root, "deep", "not", "yet", "there.txt")))
	assert.True(t, s.Contains("inside.txt"))
	assert.False(t, s.Contains("/etc/passwd"))
}
