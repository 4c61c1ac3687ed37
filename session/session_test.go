package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterValid(t *testing.T) {
	msgs := []Message{
		System("sys"),
		User("hi"),
		{Role: RoleAssistant},
		{Role: RoleThought, Content: "pondering"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Type: "function", Function: FunctionCall{Name: "List"}}}},
		ToolResult("1", "a.go"),
		Assistant("   "),
	}

	got := FilterValid(msgs)
	require.Len(t, got, 4)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, RoleUser, got[1].Role)
	assert.Len(t, got[2].ToolCalls, 1)
	assert.Equal(t, "1", got[3].ToolCallID)
}

func TestCloneIsDeep(t *testing.T) {
	orig := []Message{{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}}}}
	c := Clone(orig)
	c[0].ToolCalls[0].ID = "b"
	assert.Equal(t, "a", orig[0].ToolCalls[0].ID)
}

func TestSaveAndLoad(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "demo")
	require.NoError(t, err)
	s.History = []Message{User("hello"), {Role: RoleThought, Content: "hmm"}, Assistant("hi")}
	s.Context = []Message{User("hello"), Assistant("hi")}
	require.NoError(t, s.Save())

	raw, err := os.ReadFile(filepath.Join(s.Dir(), historyFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {", "history is pretty printed")

	raw, err = os.ReadFile(filepath.Join(s.Dir(), contextFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "\n")

	loaded, err := Load(base, "demo")
	require.NoError(t, err)
	assert.Equal(t, s.History, loaded.History)
	assert.Equal(t, s.Context, loaded.Context)
}

func TestLoadWithoutContextFallsBackToHistory(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "old")
	require.NoError(t, err)
	s.History = []Message{User("hello"), {Role: RoleThought, Content: "hmm"}}
	require.NoError(t, s.Save())
	require.NoError(t, os.Remove(filepath.Join(s.Dir(), contextFile)))

	loaded, err := Load(base, "old")
	require.NoError(t, err)
	assert.Equal(t, []Message{User("hello")}, loaded.Context)
}

func TestLoadMissingSession(t *testing.T) {
	_, err := Load(t.TempDir(), "missing")
	assert.Error(t, err)
}
