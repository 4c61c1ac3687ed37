package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
	"github.com/openai/openai-go/v2/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sseBody = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"List","arguments":"{\"path\""}}]}}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\".\"}"}}]}}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":20,"completion_tokens":6,"total_tokens":26}}

data: [DONE]

`

func TestOpenAIClientStream(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(srv.URL, "sk-test", testr.New(t), option.WithMaxRetries(0))
	require.NoError(t, err)

	body, err := c.Stream(context.Background(), &Request{
		Model: "m",
		Messages: []session.Message{
			session.System("sys"),
			session.User("hi"),
			{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{
				ID: "call_0", Type: "function", Function: session.FunctionCall{Name: "Read"},
			}}},
			session.ToolResult("call_0", "contents"),
		},
		Tools: []tools.Definition{{
			Type: "function",
			Function: tools.FunctionDefinition{
				Name:       "List",
				Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
			},
		}},
	})
	require.NoError(t, err)
	res, _ := decodeAll(t, body)

	assert.Equal(t, "Hello", res.Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "List", res.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"path":"."}`, res.ToolCalls[0].Function.Arguments)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 26, res.Usage.Total())

	assert.Equal(t, "m", got["model"])
	assert.Equal(t, true, got["stream"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	toolMsg := msgs[3].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_0", toolMsg["tool_call_id"])
	assert.Len(t, got["tools"], 1)
}

func TestOpenAIClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(srv.URL, "sk-test", testr.New(t), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), &Request{Model: "m", Messages: []session.Message{session.User("hi")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "", testr.New(t))
	assert.Error(t, err)
}
