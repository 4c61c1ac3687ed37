package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/conductor/app"
	"github.com/m4xw311/conductor/tools"
)

func TestInitWritesIgnoreFileOnce(t *testing.T) {
	dir := t.TempDir()
	for _, want := range []string{"Created .conductorignore", ".conductorignore already exists"} {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"init", "--dir", dir})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), want)
	}
	assert.FileExists(t, filepath.Join(dir, tools.IgnoreFileName))
}

func TestRootFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"session", "resume", "model", "acp", "dir", "config", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	cmd.SetArgs([]string{"-s", "a", "-r", "b"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestOpenSession(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("llm: mock\nlog:\n  file: \"\"\n"), 0o644))
	a, err := app.New(context.Background(), app.Options{Dir: dir, ConfigPath: cfgPath})
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	_, err = openSession(a, options{name: "first"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Starting new session: first\n", out.String())

	_, err = openSession(a, options{resume: "never-saved"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error resuming session 'never-saved'")
}
