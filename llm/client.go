// Package llm talks to model providers. Every client produces the same
// thing: a body of "data:" frames in the chat-completions chunk format,
// terminated by "data: [DONE]", ready for stream.Decode.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
	"github.com/m4xw311/conductor/tools"
)

// Request is one chat completion call.
type Request struct {
	Model    string
	Messages []session.Message
	Tools    []tools.Definition
}

// Client streams a chat completion as raw frames. The caller closes the
// returned body.
type Client interface {
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// NewFromConfig builds the client selected by cfg.LLMClient.
func NewFromConfig(ctx context.Context, cfg *config.Config, log logr.Logger) (Client, error) {
	switch cfg.LLMClient {
	case "", "openai", "xai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, errors.New("%s environment variable not set", cfg.APIKeyEnv)
		}
		return NewOpenAIClient(cfg.BaseURL, key, log)
	case "anthropic":
		return NewAnthropicClient(os.Getenv("ANTHROPIC_API_KEY"))
	case "gemini":
		return NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"))
	case "bedrock":
		return NewBedrockClient(ctx)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, errors.New("unknown llm client '%s'", cfg.LLMClient)
	}
}

type frameChoice struct {
	Message session.Message `json:"message"`
}

type frameUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type singleFrame struct {
	Choices []frameChoice `json:"choices"`
	Usage   *frameUsage   `json:"usage,omitempty"`
}

// SingleFrame renders a complete, non-streamed response as one message
// frame followed by the terminator.
func SingleFrame(msg session.Message, usage *stream.UsageReport) io.ReadCloser {
	f := singleFrame{Choices: []frameChoice{{Message: msg}}}
	if usage != nil {
		f.Usage = &frameUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens}
	}
	var buf bytes.Buffer
	writeFrame(&buf, f)
	buf.WriteString("data: [DONE]\n")
	return io.NopCloser(&buf)
}

func writeFrame(buf *bytes.Buffer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
}
