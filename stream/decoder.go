// Package stream decodes chat-completion event streams.
//
// A provider response is a sequence of newline-delimited frames of the form
// "data: <json>", terminated by "data: [DONE]". Chunks can split frames at
// any byte; the Decoder buffers partial lines and only decodes complete
// ones. Tool-call fragments are merged per provider index and materialized
// once the stream ends.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/go-logr/logr"

	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
	readSize   = 4096
)

// Event is one decoded unit of a stream.
type Event interface{ isStreamEvent() }

type ReasoningToken struct{ Text string }

type ContentToken struct{ Text string }

// ToolCallFragment carries the substrings of one call that arrived in a
// single frame. Empty fields were absent from the frame.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

type UsageReport struct {
	PromptTokens     int
	CompletionTokens int
}

func (ReasoningToken) isStreamEvent()   {}
func (ContentToken) isStreamEvent()     {}
func (ToolCallFragment) isStreamEvent() {}
func (UsageReport) isStreamEvent()      {}

// Total is prompt plus completion tokens.
func (u UsageReport) Total() int { return u.PromptTokens + u.CompletionTokens }

// Result is the assembled response once the stream has ended.
type Result struct {
	Content   string
	Reasoning string
	ToolCalls []session.ToolCall
	Usage     *UsageReport
}

// Empty reports a response with neither content nor tool calls.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Content) == "" && len(r.ToolCalls) == 0
}

// Message is the assistant transcript entry for r.
func (r Result) Message() session.Message {
	return session.Message{Role: session.RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

type frame struct {
	Choices []struct {
		Delta   *delta `json:"delta"`
		Message *delta `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type delta struct {
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
	Thinking         *string `json:"thinking"`
	ToolCalls        []struct {
		Index    *int   `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type pendingCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// Decoder is not safe for concurrent use.
type Decoder struct {
	log       logr.Logger
	pending   []byte
	content   strings.Builder
	reasoning strings.Builder
	calls     map[int]*pendingCall
	usage     *UsageReport
	done      bool
}

func NewDecoder(log logr.Logger) *Decoder {
	return &Decoder{log: log, calls: map[int]*pendingCall{}}
}

// Feed consumes a chunk and returns the events of every line it completed.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.pending = append(d.pending, chunk...)
	var events []Event
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := string(d.pending[:i])
		d.pending = d.pending[i+1:]
		events = append(events, d.line(line)...)
	}
	return events
}

// Finish decodes a final line left without a trailing newline.
func (d *Decoder) Finish() []Event {
	if len(d.pending) == 0 {
		return nil
	}
	line := string(d.pending)
	d.pending = nil
	return d.line(line)
}

// Done reports whether the terminator frame has been seen.
func (d *Decoder) Done() bool { return d.done }

func (d *Decoder) line(raw string) []Event {
	line := strings.TrimSpace(raw)
	if line == "" || d.done {
		return nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		d.log.V(1).Info("skipping non-data line", "line", line)
		return nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneMarker {
		d.done = true
		return nil
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.log.Error(err, "skipping malformed frame", "payload", payload)
		return nil
	}

	var events []Event
	if len(f.Choices) > 0 {
		dl := f.Choices[0].Delta
		if dl == nil {
			dl = f.Choices[0].Message
		}
		if dl != nil {
			events = d.applyDelta(dl)
		}
	}
	if f.Usage != nil {
		u := UsageReport{PromptTokens: f.Usage.PromptTokens, CompletionTokens: f.Usage.CompletionTokens}
		d.usage = &u
		events = append(events, u)
	}
	return events
}

func (d *Decoder) applyDelta(dl *delta) []Event {
	var events []Event
	reasoning := dl.ReasoningContent
	if reasoning == nil {
		reasoning = dl.Thinking
	}
	if reasoning != nil && *reasoning != "" {
		d.reasoning.WriteString(*reasoning)
		events = append(events, ReasoningToken{Text: *reasoning})
	}
	if dl.Content != nil && *dl.Content != "" {
		d.content.WriteString(*dl.Content)
		events = append(events, ContentToken{Text: *dl.Content})
	}
	for pos, tc := range dl.ToolCalls {
		idx := pos
		if tc.Index != nil {
			idx = *tc.Index
		}
		if idx < 0 {
			d.log.Info("ignoring tool call with negative index", "index", idx)
			continue
		}
		pc, ok := d.calls[idx]
		if !ok {
			pc = &pendingCall{}
			d.calls[idx] = pc
		}
		if tc.ID != "" {
			pc.id = tc.ID
		}
		pc.name.WriteString(tc.Function.Name)
		pc.args.WriteString(tc.Function.Arguments)
		events = append(events, ToolCallFragment{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return events
}

// Result materializes the accumulated response in index order. Calls that
// never received a name are dropped and missing ids are synthesized.
func (d *Decoder) Result() Result {
	r := Result{Content: d.content.String(), Reasoning: d.reasoning.String(), Usage: d.usage}
	indices := make([]int, 0, len(d.calls))
	for i := range d.calls {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	for _, i := range indices {
		pc := d.calls[i]
		name := pc.name.String()
		if name == "" {
			d.log.V(1).Info("dropping unnamed tool call", "index", i)
			continue
		}
		id := pc.id
		if id == "" {
			id = fmt.Sprintf("call_%s_%d", name, len(r.ToolCalls)+1)
		}
		r.ToolCalls = append(r.ToolCalls, session.ToolCall{
			ID:       id,
			Type:     "function",
			Function: session.FunctionCall{Name: name, Arguments: pc.args.String()},
		})
	}
	return r
}

// Decode reads r to the end (or until the terminator), reporting events to
// emit in order, and returns the assembled result.
func Decode(ctx context.Context, r io.Reader, log logr.Logger, emit func(Event)) (Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	d := NewDecoder(log)
	buf := make([]byte, readSize)
	for !d.Done() {
		if err := ctx.Err(); err != nil {
			return d.Result(), err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				emit(ev)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return d.Result(), errors.Wrapf(err, "stream read failed")
		}
	}
	for _, ev := range d.Finish() {
		emit(ev)
	}
	return d.Result(), nil
}
