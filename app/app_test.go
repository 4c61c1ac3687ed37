package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/llm"
	"github.com/m4xw311/conductor/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewWithMockClient(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "llm: mock\nmodel: file-model\nlog:\n  file: logs/debug.log\n")

	a, err := New(context.Background(), Options{Dir: dir, ConfigPath: path, Model: "flag-model", Verbosity: 2})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &llm.MockClient{}, a.Client)
	assert.Equal(t, "flag-model", a.Config.Model)
	assert.Equal(t, 2, a.Config.Log.Verbosity)
	assert.Equal(t, filepath.Join(dir, config.DirName), a.BaseDir())
	assert.FileExists(t, filepath.Join(dir, "logs", "debug.log"))
}

func TestNewRejectsUnknownClient(t *testing.T) {
	path := writeConfig(t, "llm: nope\nlog:\n  file: \"\"\n")
	_, err := New(context.Background(), Options{Dir: t.TempDir(), ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm client 'nope'")
}

func TestNewSessionAndResume(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "llm: mock\nlog:\n  file: \"\"\n")
	a, err := New(context.Background(), Options{Dir: dir, ConfigPath: path})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.NewSession("missing", true)
	require.Error(t, err)

	sess, err := a.NewSession("work", false)
	require.NoError(t, err)
	require.NoError(t, sess.Submit("hello"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for sess.Busy() {
		_, err := sess.Next(ctx)
		require.NoError(t, err)
	}

	resumed, err := a.NewSession("work", true)
	require.NoError(t, err)
	assert.Equal(t, sess.Context(), resumed.Context())
	assert.Equal(t, "Mock response to: hello", resumed.Context()[2].Content)
	assert.Equal(t, 1, a.Metrics.Snapshot().Requests)
}

func runTurn(t *testing.T, sess *agent.Session, input string) {
	t.Helper()
	require.NoError(t, sess.Submit(input))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for sess.Busy() {
		_, err := sess.Next(ctx)
		require.NoError(t, err)
	}
}

func TestSessionsShareLimiterAndStore(t *testing.T) {
	path := writeConfig(t, "llm: mock\nlog:\n  file: \"\"\n")
	a, err := New(context.Background(), Options{Dir: t.TempDir(), ConfigPath: path})
	require.NoError(t, err)
	defer a.Close()

	first, err := a.NewSession("first", false)
	require.NoError(t, err)
	second, err := a.NewSession("second", false)
	require.NoError(t, err)
	runTurn(t, first, "one")
	runTurn(t, second, "two")

	assert.Equal(t, 2, a.Limiter.Usage().Requests)
	assert.Equal(t, a.Dir, a.Store.Root())
}

type echoTool struct{}

func (echoTool) Name() string               { return "mcp_echo" }
func (echoTool) Description() string        { return "Echo the text argument." }
func (echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	return fmt.Sprintf("echo: %v", args["text"]), nil
}

func TestSessionsGetServerTools(t *testing.T) {
	path := writeConfig(t, "llm: mock\nlog:\n  file: \"\"\n")
	a, err := New(context.Background(), Options{Dir: t.TempDir(), ConfigPath: path})
	require.NoError(t, err)
	defer a.Close()
	a.mcpTools.Register(echoTool{})

	client := a.Client.(*llm.MockClient)
	client.Push(
		llm.MockResponse{ToolCalls: []session.ToolCall{{
			ID: "call_1", Type: "function",
			Function: session.FunctionCall{Name: "mcp_echo", Arguments: `{"text":"hi"}`},
		}}},
		llm.MockResponse{Content: "done"},
	)
	sess, err := a.NewSession("tools", false)
	require.NoError(t, err)
	runTurn(t, sess, "use it")

	var names []string
	for _, d := range client.Requests()[0].Tools {
		names = append(names, d.Function.Name)
	}
	assert.Contains(t, names, "mcp_echo")
	assert.Contains(t, names, "Bash")
	var result string
	for _, m := range sess.Context() {
		if m.ToolCallID == "call_1" {
			result = m.Content
		}
	}
	assert.Contains(t, result, "echo: hi")
}

func TestSandboxSetting(t *testing.T) {
	write := func(t *testing.T, sandbox bool) (target string, result session.Message) {
		path := writeConfig(t, fmt.Sprintf("llm: mock\nsettings:\n  rate_limiter_enabled: false\n  sandbox_enabled: %v\nlog:\n  file: \"\"\n", sandbox))
		a, err := New(context.Background(), Options{Dir: t.TempDir(), ConfigPath: path})
		require.NoError(t, err)
		defer a.Close()

		target = filepath.Join(t.TempDir(), "outside.txt")
		args := fmt.Sprintf(`{"file_path":%q,"content":"x"}`, target)
		a.Client.(*llm.MockClient).Push(
			llm.MockResponse{ToolCalls: []session.ToolCall{{ID: "w1", Type: "function", Function: session.FunctionCall{Name: "Write", Arguments: args}}}},
			llm.MockResponse{Content: "ok"},
		)
		sess, err := a.NewSession("work", false)
		require.NoError(t, err)
		runTurn(t, sess, "write outside")
		for _, m := range sess.Context() {
			if m.ToolCallID == "w1" {
				return target, m
			}
		}
		t.Fatalf("no result for w1 in %v", sess.Context())
		return "", session.Message{}
	}

	target, res := write(t, true)
	assert.Contains(t, res.Content, "Cannot write files outside of")
	assert.NoFileExists(t, target)

	target, res = write(t, false)
	assert.Contains(t, res.Content, "Successfully wrote")
	assert.FileExists(t, target)
}

func TestClaim(t *testing.T) {
	path := writeConfig(t, "llm: mock\nlog:\n  file: \"\"\n")
	a, err := New(context.Background(), Options{Dir: t.TempDir(), ConfigPath: path})
	require.NoError(t, err)
	defer a.Close()

	release, err := a.Claim("work")
	require.NoError(t, err)
	_, err = a.Claim("work")
	assert.ErrorIs(t, err, ErrSessionInUse)
	_, err = a.Claim("other")
	assert.NoError(t, err)

	release()
	release()
	again, err := a.Claim("work")
	require.NoError(t, err)
	again()
}

func TestDefaultSessionName(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "project_2026-03-04_05-06-07", DefaultSessionName("/home/me/project", now))
	assert.Equal(t, "conductor_2026-03-04_05-06-07", DefaultSessionName("/", now))
}
