package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWriterRespectsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := FromWriter(&buf, 0)
	log.Info("visible", "turn", 1)
	log.V(1).Info("hidden")

	out := buf.String()
	assert.Contains(t, out, `"msg"="visible"`)
	assert.Contains(t, out, `"turn"=1`)
	assert.NotContains(t, out, "hidden")
}

func TestNewCreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "debug.log")
	log, closer, err := New(Options{File: path})
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNewWithoutFileDiscards(t *testing.T) {
	log, closer, err := New(Options{})
	require.NoError(t, err)
	assert.NotNil(t, closer)
	log.Info("nothing happens")
}
