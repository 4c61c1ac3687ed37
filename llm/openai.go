package llm

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
)

// OpenAIClient streams from any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	log    logr.Logger
}

// NewOpenAIClient creates a client for baseURL, or the SDK default when
// baseURL is empty.
func NewOpenAIClient(baseURL, apiKey string, log logr.Logger, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, opts...)

	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAIClient{client: &c, log: log.WithName("openai")}, nil
}

// Stream starts a streaming completion. Connection and HTTP status errors
// are returned here; later failures surface from the body's Read.
func (o *OpenAIClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessagesToOpenaiContent(req.Messages),
		Tools:    convertToolsToOpenAITools(req.Tools),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	s := o.client.Chat.Completions.NewStreaming(ctx, params)
	if !s.Next() {
		err := s.Err()
		s.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to send message to OpenAI")
		}
		return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
	}
	o.log.V(2).Info("stream opened", "model", req.Model, "messages", len(req.Messages))
	return &chunkReader{stream: s, pending: true}, nil
}

// chunkReader re-encodes SDK chunks as the raw frames they arrived as.
type chunkReader struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	buf     bytes.Buffer
	pending bool
	done    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.done {
			return 0, io.EOF
		}
		if !r.pending && !r.stream.Next() {
			if err := r.stream.Err(); err != nil {
				return 0, err
			}
			r.buf.WriteString("data: [DONE]\n")
			r.done = true
			break
		}
		r.pending = false
		r.buf.WriteString("data: ")
		r.buf.WriteString(r.stream.Current().RawJSON())
		r.buf.WriteString("\n\n")
	}
	return r.buf.Read(p)
}

func (r *chunkReader) Close() error {
	return r.stream.Close()
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			var assistant openai.ChatCompletionAssistantMessageParam
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: args,
						},
					},
				})
			}
			chatMessages = append(chatMessages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tool definitions to the OpenAI Tool format.
func convertToolsToOpenAITools(defs []tools.Definition) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, d := range defs {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Function.Name,
			Description: openai.String(d.Function.Description),
			Parameters:  openai.FunctionParameters(d.Function.Parameters),
		}))
	}
	return openAITools
}
