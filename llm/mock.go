package llm

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
)

const mockChunkRunes = 8

// MockResponse is one scripted reply of a MockClient.
type MockResponse struct {
	Content   string
	Reasoning string
	ToolCalls []session.ToolCall
	Usage     *stream.UsageReport
	// Err is returned from Stream instead of a body.
	Err error
	// Wait blocks Stream until it is closed or the context ends.
	Wait <-chan struct{}
	// Raw, when set, is sent verbatim as the body.
	Raw string
}

// MockClient replays scripted responses as delta frames. Once the script
// runs out it echoes the last user message.
type MockClient struct {
	mu       sync.Mutex
	script   []MockResponse
	requests []Request
}

func NewMockClient(script ...MockResponse) *MockClient {
	return &MockClient{script: script}
}

// Push appends responses to the script.
func (m *MockClient) Push(rs ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, rs...)
}

// Requests returns a copy of every request received so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	m.mu.Lock()
	m.requests = append(m.requests, Request{
		Model:    req.Model,
		Messages: session.Clone(req.Messages),
		Tools:    req.Tools,
	})
	var resp MockResponse
	if len(m.script) > 0 {
		resp = m.script[0]
		m.script = m.script[1:]
	} else {
		resp = MockResponse{Content: "Mock response to: " + lastUserContent(req.Messages)}
	}
	m.mu.Unlock()

	if resp.Wait != nil {
		select {
		case <-resp.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Raw != "" {
		return io.NopCloser(bytes.NewBufferString(resp.Raw)), nil
	}
	return io.NopCloser(renderDeltas(resp)), nil
}

type mockDelta struct {
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []mockCallDelta `json:"tool_calls,omitempty"`
}

type mockCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type mockFrame struct {
	Choices []struct {
		Delta mockDelta `json:"delta"`
	} `json:"choices"`
	Usage *frameUsage `json:"usage,omitempty"`
}

func deltaFrame(d mockDelta) mockFrame {
	var f mockFrame
	f.Choices = make([]struct {
		Delta mockDelta `json:"delta"`
	}, 1)
	f.Choices[0].Delta = d
	return f
}

// renderDeltas splits the response the way a streaming provider would:
// text in short chunks, each tool call as a header fragment followed by its
// arguments in two pieces.
func renderDeltas(resp MockResponse) *bytes.Buffer {
	var buf bytes.Buffer
	for _, part := range chunkRunes(resp.Reasoning, mockChunkRunes) {
		writeFrame(&buf, deltaFrame(mockDelta{ReasoningContent: part}))
	}
	for _, part := range chunkRunes(resp.Content, mockChunkRunes) {
		writeFrame(&buf, deltaFrame(mockDelta{Content: part}))
	}
	for i, tc := range resp.ToolCalls {
		head := mockCallDelta{Index: i, ID: tc.ID}
		head.Function.Name = tc.Function.Name
		writeFrame(&buf, deltaFrame(mockDelta{ToolCalls: []mockCallDelta{head}}))

		args := []rune(tc.Function.Arguments)
		half := len(args) / 2
		for _, piece := range []string{string(args[:half]), string(args[half:])} {
			if piece == "" {
				continue
			}
			frag := mockCallDelta{Index: i}
			frag.Function.Arguments = piece
			writeFrame(&buf, deltaFrame(mockDelta{ToolCalls: []mockCallDelta{frag}}))
		}
	}
	if resp.Usage != nil {
		writeFrame(&buf, mockFrame{Usage: &frameUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}})
	}
	buf.WriteString("data: [DONE]\n")
	return &buf
}

func chunkRunes(s string, n int) []string {
	var out []string
	rs := []rune(s)
	for len(rs) > 0 {
		k := min(n, len(rs))
		out = append(out, string(rs[:k]))
		rs = rs[k:]
	}
	return out
}

func lastUserContent(messages []session.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
