package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
	"github.com/m4xw311/conductor/tools"
)

// AnthropicClient is a client for the Anthropic API. Responses are
// buffered and bridged into a single frame.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a client authenticated with apiKey.
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicClient{client: &client}, nil
}

func (a *AnthropicClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	for _, toolParam := range convertToolsToAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return SingleFrame(processAnthropicResponse(resp), &stream.UsageReport{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}), nil
}

// convertMessagesToAnthropicMessages converts our internal message format to
// Anthropic's. System messages are joined into the system prompt and
// consecutive tool results share one user turn.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var system []string
	lastWasToolResult := false

	for _, msg := range messages {
		isToolResult := false
		switch msg.Role {
		case session.RoleSystem:
			system = append(system, msg.Content)
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			var contentItems []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Function.Name,
						Input: rawArguments(tc.Function.Arguments),
					}})
			}
			if len(contentItems) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: contentItems,
				})
			}
		case session.RoleTool:
			isToolResult = true
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: msg.Content},
					}},
				},
			}
			if n := len(anthropicMessages); lastWasToolResult && n > 0 {
				anthropicMessages[n-1].Content = append(anthropicMessages[n-1].Content, block)
			} else {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleUser,
					Content: []anthropic.ContentBlockParamUnion{block},
				})
			}
		}
		lastWasToolResult = isToolResult
	}

	return anthropicMessages, strings.Join(system, "\n\n")
}

// convertToolsToAnthropicTools converts tool definitions to Anthropic's tool format.
func convertToolsToAnthropicTools(defs []tools.Definition) []anthropic.ToolParam {
	if len(defs) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, d := range defs {
		properties := d.Function.Parameters["properties"]
		if properties == nil {
			properties = map[string]any{}
		}
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        d.Function.Name,
			Description: anthropic.String(d.Function.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into an
// assistant message.
func processAnthropicResponse(resp *anthropic.Message) session.Message {
	msg := session.Message{Role: session.RoleAssistant}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += c.Text
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: session.FunctionCall{Name: c.Name, Arguments: string(c.Input)},
			})
		}
	}
	return msg
}

// rawArguments passes streamed argument JSON through unchanged, substituting
// an empty object for missing or invalid input.
func rawArguments(args string) json.RawMessage {
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}
