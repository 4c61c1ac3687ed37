package llm

import (
	"encoding/json"
	"testing"

	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	// Test user message
	result, system := convertMessagesToAnthropicFormat([]session.Message{
		session.System("be brief"),
		session.User("Hello, world!"),
	})
	require.Len(t, result, 1)
	assert.Equal(t, "user", result[0]["role"])
	assert.Equal(t, "be brief", system)

	// Test assistant message with content
	result, _ = convertMessagesToAnthropicFormat([]session.Message{
		session.Assistant("Hello! How can I help you?"),
	})
	require.Len(t, result, 1)
	assert.Equal(t, "assistant", result[0]["role"])

	// Test assistant message with text and tool calls
	result, _ = convertMessagesToAnthropicFormat([]session.Message{{
		Role:    session.RoleAssistant,
		Content: "checking",
		ToolCalls: []session.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: session.FunctionCall{Name: "Read", Arguments: `{"file_path":"a.go"}`},
		}},
	}})
	require.Len(t, result, 1)
	content := result[0]["content"].([]map[string]any)
	require.Len(t, content, 2)
	assert.Equal(t, "tool_use", content[1]["type"])
	assert.Equal(t, "call_1", content[1]["id"])
	assert.Equal(t, map[string]any{"file_path": "a.go"}, content[1]["input"])

	// Consecutive tool results share one user turn
	result, _ = convertMessagesToAnthropicFormat([]session.Message{
		session.ToolResult("call_1", "one"),
		session.ToolResult("call_2", "two"),
	})
	require.Len(t, result, 1)
	assert.Equal(t, "user", result[0]["role"])
	results := result[0]["content"].([]map[string]any)
	require.Len(t, results, 2)
	assert.Equal(t, "call_2", results[1]["tool_use_id"])
}

func TestCreateAnthropicRequest(t *testing.T) {
	messages := []map[string]any{{
		"role":    "user",
		"content": []map[string]any{{"type": "text", "text": "Hello!"}},
	}}

	body, err := createAnthropicRequest(messages, "sys", nil)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])
	assert.Equal(t, "sys", decoded["system"])
	assert.NotContains(t, decoded, "tools")

	defs := []tools.Definition{{
		Type: "function",
		Function: tools.FunctionDefinition{
			Name:        "test_tool",
			Description: "A test tool",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "string"}}},
		},
	}}
	body, err = createAnthropicRequest(messages, "", defs)
	require.NoError(t, err)
	decoded = nil
	require.NoError(t, json.Unmarshal(body, &decoded))
	toolList := decoded["tools"].([]any)
	require.Len(t, toolList, 1)
	tool := toolList[0].(map[string]any)
	assert.Equal(t, "test_tool", tool["name"])
	assert.Contains(t, tool["input_schema"].(map[string]any)["properties"], "x")
}

func TestProcessBedrockResponse(t *testing.T) {
	body := `{
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "toolu_1", "name": "List", "input": {"path": "."}}
		],
		"usage": {"input_tokens": 12, "output_tokens": 5}
	}`
	msg, usage, err := processBedrockResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Let me look.", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"."}`, msg.ToolCalls[0].Function.Arguments)
	require.NotNil(t, usage)
	assert.Equal(t, 17, usage.Total())

	_, _, err = processBedrockResponse([]byte(`{"error": "throttled"}`))
	assert.ErrorContains(t, err, "throttled")

	_, _, err = processBedrockResponse([]byte(`not json`))
	assert.Error(t, err)
}
