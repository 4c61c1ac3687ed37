package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
	"github.com/m4xw311/conductor/tools"
)

// BedrockClient is a client for the Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client *bedrockruntime.Client
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &BedrockClient{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *BedrockClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicFormat(req.Messages)

	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt, req.Tools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	msg, usage, err := processBedrockResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	return SingleFrame(msg, usage), nil
}

// convertMessagesToAnthropicFormat converts our internal message format to the
// Anthropic messages body Bedrock expects.
func convertMessagesToAnthropicFormat(messages []session.Message) ([]map[string]any, string) {
	var anthropicMessages []map[string]any
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			system = append(system, msg.Content)
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": msg.Content},
				},
			})
		case session.RoleAssistant:
			var content []map[string]any
			if msg.Content != "" {
				content = append(content, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Function.Name,
					"input": tools.DecodeArgs(tc.Function.Arguments),
				})
			}
			if len(content) > 0 {
				anthropicMessages = append(anthropicMessages, map[string]any{
					"role":    "assistant",
					"content": content,
				})
			}
		case session.RoleTool:
			result := map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			}
			// Consecutive results answer one assistant turn and share a user message.
			if n := len(anthropicMessages); n > 0 && isToolResultTurn(anthropicMessages[n-1]) {
				prev := anthropicMessages[n-1]
				prev["content"] = append(prev["content"].([]map[string]any), result)
				continue
			}
			anthropicMessages = append(anthropicMessages, map[string]any{
				"role":    "user",
				"content": []map[string]any{result},
			})
		}
	}

	return anthropicMessages, strings.Join(system, "\n\n")
}

func isToolResultTurn(m map[string]any) bool {
	if m["role"] != "user" {
		return false
	}
	content, ok := m["content"].([]map[string]any)
	return ok && len(content) > 0 && content[0]["type"] == "tool_result"
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]any, systemPrompt string, defs []tools.Definition) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(defs) > 0 {
		var toolDefs []map[string]any
		for _, d := range defs {
			schema := d.Function.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			toolDefs = append(toolDefs, map[string]any{
				"name":         d.Function.Name,
				"description":  d.Function.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into an assistant
// message and its token usage.
func processBedrockResponse(body []byte) (session.Message, *stream.UsageReport, error) {
	msg := session.Message{Role: session.RoleAssistant}

	var response map[string]any
	if err := json.Unmarshal(body, &response); err != nil {
		return msg, nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return msg, nil, errors.New("Bedrock API error: %v", errMsg)
	}

	var usage *stream.UsageReport
	if u, ok := response["usage"].(map[string]any); ok {
		in, _ := u["input_tokens"].(float64)
		out, _ := u["output_tokens"].(float64)
		usage = &stream.UsageReport{PromptTokens: int(in), CompletionTokens: int(out)}
	}

	content, ok := response["content"]
	if !ok {
		return msg, usage, nil
	}

	contentArray, ok := content.([]any)
	if !ok {
		return msg, nil, errors.New("unexpected content format in Bedrock response")
	}

	toolCallIDCounter := 0
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}

		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				msg.Content += text
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, ok := itemMap["input"].(map[string]any)
			if !ok {
				input = map[string]any{}
			}
			args, err := json.Marshal(input)
			if err != nil {
				return msg, nil, errors.Wrapf(err, "failed to encode arguments for '%s'", name)
			}
			id := fmt.Sprintf("call_%d_%s", toolCallIDCounter, name)
			if toolID, ok := itemMap["id"].(string); ok {
				id = toolID
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:       id,
				Type:     "function",
				Function: session.FunctionCall{Name: name, Arguments: string(args)},
			})
			toolCallIDCounter++
		}
	}

	return msg, usage, nil
}
