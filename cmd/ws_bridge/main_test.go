package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/app"
	"github.com/m4xw311/conductor/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("llm: mock\nlog:\n  file: \"\"\n"), 0o644))
	a, err := app.New(context.Background(), app.Options{Dir: t.TempDir(), ConfigPath: cfgPath})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	srv := httptest.NewServer(newMux(a))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	return conn
}

// readUntil collects events up to and including the first of type stop.
func readUntil(t *testing.T, conn *websocket.Conn, stop string) []wireEvent {
	t.Helper()
	var evs []wireEvent
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		evs = append(evs, ev)
		if ev.Type == stop {
			return evs
		}
	}
}

func TestBridgeRunsTurn(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "")

	hello := readUntil(t, conn, "session")
	name := hello[len(hello)-1].Text
	assert.Len(t, name, 36)

	require.NoError(t, conn.WriteJSON(command{Type: "prompt", Text: "hello"}))
	evs := readUntil(t, conn, "finished")
	assert.Equal(t, "completed", evs[len(evs)-1].Reason)

	var text strings.Builder
	for _, ev := range evs {
		if ev.Type == "token" {
			text.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "Mock response to: hello", text.String())

	require.NoError(t, conn.WriteJSON(command{Type: "teleport"}))
	errs := readUntil(t, conn, "error")
	assert.Contains(t, errs[len(errs)-1].Text, "unknown command type 'teleport'")

	require.NoError(t, conn.WriteJSON(command{Type: "answer", Decision: "yes"}))
	errs = readUntil(t, conn, "error")
	assert.Equal(t, agent.ErrNoPendingRequest.Error(), errs[len(errs)-1].Text)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "conductor_requests_total 1")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + name
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	conn.Close()
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		defer c.Close()
		require.NoError(t, c.SetReadDeadline(time.Now().Add(10*time.Second)))
		readUntil(t, c, "session")
		return true
	}, 10*time.Second, 20*time.Millisecond)
}

func TestBridgeRejectsUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEncode(t *testing.T) {
	call := session.ToolCall{ID: "c1", Type: "function", Function: session.FunctionCall{Name: "Bash", Arguments: `{"command":"ls"}`}}
	tests := []struct {
		ev   agent.Event
		want wireEvent
	}{
		{agent.Token{Text: "hi"}, wireEvent{Type: "token", Text: "hi"}},
		{agent.Paused{Duration: time.Minute}, wireEvent{Type: "paused", Seconds: 60}},
		{agent.RoleSwitch{From: "default", To: "coder"}, wireEvent{Type: "role", From: "default", To: "coder"}},
		{agent.BashApprovalRequest{Call: call, Command: "ls"}, wireEvent{Type: "approve_bash", Text: "ls", Call: &call}},
		{agent.PlanningRequest{CallID: "c2", Question: "Which?", Options: []string{"a"}}, wireEvent{Type: "ask", Question: "Which?", Options: []string{"a"}}},
		{agent.Finished{Reason: agent.FinishSuspended}, wireEvent{Type: "finished", Reason: "suspended"}},
		{agent.UsageUpdate{PromptTokens: 3, CompletionTokens: 4}, wireEvent{Type: "usage", PromptTokens: 3, CompletionTokens: 4}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encode(tt.ev))
	}
}
