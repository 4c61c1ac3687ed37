package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
	"github.com/m4xw311/conductor/tools"
	"google.golang.org/api/option"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new GeminiClient.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	history, system := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	model := g.client.GenerativeModel(req.Model)
	model.Tools = convertToolsToGeminiTools(req.Tools)
	if system != nil {
		model.SystemInstruction = system
	}

	// The last message is the new prompt.
	last := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	msg, err := processGeminiResponse(resp)
	if err != nil {
		return nil, err
	}
	var usage *stream.UsageReport
	if resp.UsageMetadata != nil {
		usage = &stream.UsageReport{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return SingleFrame(msg, usage), nil
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's. Tool results are answered by function name, so call ids are
// resolved against earlier assistant turns.
func convertMessagesToGeminiContent(messages []session.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system *genai.Content
	callNames := map[string]string{}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, genai.Text(msg.Content))
		case session.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case session.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if msg.Content != "" {
				c.Parts = append(c.Parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				c.Parts = append(c.Parts, genai.FunctionCall{
					Name: tc.Function.Name,
					Args: tools.DecodeArgs(tc.Function.Arguments),
				})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}
		case session.RoleTool:
			part := genai.FunctionResponse{
				Name:     callNames[msg.ToolCallID],
				Response: map[string]any{"result": msg.Content},
			}
			if n := len(contents); n > 0 && contents[n-1].Role == "function" {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "function", Parts: []genai.Part{part}})
		}
	}
	return contents, system
}

// convertToolsToGeminiTools converts tool definitions to Gemini's
// FunctionDeclaration format.
func convertToolsToGeminiTools(defs []tools.Definition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, d := range defs {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			Parameters:  toGeminiSchema(d.Function.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// toGeminiSchema maps a JSON schema object onto genai.Schema.
func toGeminiSchema(s map[string]any) *genai.Schema {
	if s == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{}
	out.Description, _ = s["description"].(string)
	switch s["type"] {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if items, ok := s["items"].(map[string]any); ok {
			out.Items = toGeminiSchema(items)
		}
	default:
		out.Type = genai.TypeObject
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			pm, _ := p.(map[string]any)
			out.Properties[name] = toGeminiSchema(pm)
		}
	}
	out.Required = stringList(s["required"])
	out.Enum = stringList(s["enum"])
	return out
}

func stringList(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		var out []string
		for _, x := range vs {
			if str, ok := x.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// processGeminiResponse converts a Gemini API response into an assistant
// message. Gemini does not assign call ids, so they are synthesized.
func processGeminiResponse(resp *genai.GenerateContentResponse) (session.Message, error) {
	msg := session.Message{Role: session.RoleAssistant}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return msg, nil
	}

	for i, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			msg.Content += string(v)
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return msg, errors.Wrapf(err, "failed to encode arguments for '%s'", v.Name)
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:       fmt.Sprintf("call_%d_%s", i, v.Name),
				Type:     "function",
				Function: session.FunctionCall{Name: v.Name, Arguments: string(args)},
			})
		default:
			return msg, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return msg, nil
}
