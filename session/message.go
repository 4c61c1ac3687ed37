package session

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	// RoleThought marks display-only reasoning entries that never reach the provider.
	RoleThought = "thought"
)

// Message is one transcript entry, serialized in the chat-completions wire shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResult answers the call with the given id.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// Valid reports whether the message carries content or at least one tool call.
func (m Message) Valid() bool {
	return strings.TrimSpace(m.Content) != "" || len(m.ToolCalls) > 0
}

// FilterValid drops display-only and empty messages before a provider request.
func FilterValid(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleThought || !m.Valid() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Clone returns a deep copy, so a worker can own its transcript.
func Clone(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}
