package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	// maxContentSize caps inline file contents of resource links.
	maxContentSize = 50000
)

// Factory builds the engine session for an ACP session id. resume is set
// for session/load and must fail when no stored conversation exists.
type Factory func(id string, resume bool) (*agent.Session, error)

// Run starts the Agent Client Protocol server over stdio using JSON-RPC.
// It implements a subset of ACP:
//   - initialize
//   - session/new, session/load
//   - session/prompt, streaming session/update notifications
//   - session/cancel
//
// Messages are newline-delimited JSON objects. Nothing but JSON-RPC is
// written to out. Shell commands and web searches are put to the client
// with session/request_permission; plan questions take the first option.
func Run(ctx context.Context, factory Factory, in io.Reader, out io.Writer, log logr.Logger) error {
	s := &server{
		ctx:        ctx,
		newSession: factory,
		in:         bufio.NewReader(in),
		out:        bufio.NewWriter(out),
		log:        log.WithName("acp"),
		sessions:   map[string]*agent.Session{},
		replies:    map[string]chan jsonrpcRequest{},
		done:       make(chan struct{}),
	}
	defer s.wg.Wait()
	defer close(s.done)

	s.log.V(1).Info("starting ACP server")
	for {
		payload, err := s.readMessage()
		if err == io.EOF {
			s.log.V(1).Info("EOF received, exiting")
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "ACP read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.log.V(1).Info("parse error", "err", err.Error())
			_ = s.writeError(nil, codeParseError, "Parse error", nil)
			continue
		}

		if req.Method == "" && req.ID != nil {
			s.deliver(req)
			continue
		}

		s.log.V(1).Info("dispatching", "method", req.Method, "id", req.ID)
		switch req.Method {
		case "initialize":
			s.handleInitialize(&req)
		case "session/new":
			s.handleSessionNew(&req)
		case "session/load":
			s.handleSessionLoad(&req)
		case "session/prompt":
			s.handleSessionPrompt(&req)
		case "session/cancel":
			s.handleSessionCancel(&req)
		default:
			if req.ID != nil {
				_ = s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
			}
		}
	}
}

// jsonrpcRequest represents a JSON-RPC 2.0 request or notification, or the
// client's response to a request of ours.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type server struct {
	ctx        context.Context
	newSession Factory
	in         *bufio.Reader
	out        *bufio.Writer
	writeMu    sync.Mutex
	log        logr.Logger
	wg         sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*agent.Session

	// Outgoing requests awaiting the client's response, by id. done is
	// closed once input ends.
	nextID  atomic.Int64
	replyMu sync.Mutex
	replies map[string]chan jsonrpcRequest
	done    chan struct{}
}

func (s *server) readMessage() ([]byte, error) {
	line, err := s.in.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

func (s *server) write(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *server) writeResult(id, result any) error {
	if result == nil {
		result = json.RawMessage("null")
	}
	return s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *server) writeError(id any, code int, msg string, data any) error {
	s.log.V(1).Info("error response", "code", code, "message", msg, "data", data)
	return s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: msg, Data: data}})
}

func (s *server) notify(sessionID string, update map[string]any) error {
	return s.write(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params":  map[string]any{"sessionId": sessionID, "update": update},
	})
}

func (s *server) lookup(id string) (*agent.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *server) store(id string, sess *agent.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

func decodeParams(req *jsonrpcRequest, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

func (s *server) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		s.log.V(1).Info("ignoring malformed initialize params", "err", err.Error())
	}
	_ = s.writeResult(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *server) handleSessionNew(req *jsonrpcRequest) {
	sid := uuid.NewString()
	sess, err := s.newSession(sid, false)
	if err != nil {
		_ = s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	s.store(sid, sess)
	s.log.Info("session created", "session", sid)
	_ = s.writeResult(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad restores a stored conversation and replays its display
// transcript as session/update notifications before answering null.
func (s *server) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeParams(req, &p); err != nil || p.SessionID == "" {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", "sessionId is required")
		return
	}
	sess, err := s.newSession(p.SessionID, true)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}
	s.store(p.SessionID, sess)

	history := sess.History()
	s.log.V(1).Info("replaying session", "session", p.SessionID, "messages", len(history))
	for _, msg := range history {
		switch msg.Role {
		case session.RoleUser:
			_ = s.notify(p.SessionID, textUpdate("user_message_chunk", msg.Content))
		case session.RoleAssistant:
			if msg.Content != "" {
				_ = s.notify(p.SessionID, textUpdate("agent_message_chunk", msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				_ = s.notify(p.SessionID, toolCallUpdate(tc))
			}
		case session.RoleTool:
			_ = s.notify(p.SessionID, toolResultUpdate(msg.ToolCallID, msg.Content))
		case session.RoleThought:
			_ = s.notify(p.SessionID, textUpdate("agent_thought_chunk", msg.Content))
		}
	}
	_ = s.writeResult(req.ID, nil)
}

// contentBlock represents a content block in ACP prompt requests. Text and
// resource links are understood.
type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// handleSessionPrompt submits the prompt and streams the turn in the
// background; the response carries the stop reason once it finishes.
func (s *server) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	sess, ok := s.lookup(p.SessionID)
	if !ok {
		_ = s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	text := extractUserText(p.Prompt)
	if err := sess.Submit(text); err != nil {
		_ = s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reason, err := s.stream(p.SessionID, sess)
		if err != nil {
			_ = s.writeError(req.ID, codeInternalError, "Internal error", err.Error())
			return
		}
		_ = s.writeResult(req.ID, map[string]any{"stopReason": reason})
	}()
}

func (s *server) handleSessionCancel(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeParams(req, &p); err != nil {
		return
	}
	if sess, ok := s.lookup(p.SessionID); ok {
		s.log.Info("cancelling turn", "session", p.SessionID, "cancelled", sess.Cancel())
	}
}

// stream forwards the session's events until the turn ends, answering
// approval requests as they suspend it.
func (s *server) stream(sid string, sess *agent.Session) (string, error) {
	var awaiting agent.Event
	for {
		ev, err := sess.Next(s.ctx)
		if err != nil {
			sess.Cancel()
			return "", err
		}

		switch ev := ev.(type) {
		case agent.Token:
			_ = s.notify(sid, textUpdate("agent_message_chunk", ev.Text))
		case agent.ThinkingToken:
			_ = s.notify(sid, textUpdate("agent_thought_chunk", ev.Text))
		case agent.Notice:
			_ = s.notify(sid, textUpdate("agent_message_chunk", ev.Message.Content))
		case agent.ToolStarted:
			_ = s.notify(sid, toolCallUpdate(ev.Call))
		case agent.MessageAdded:
			if ev.Message.Role == session.RoleTool {
				_ = s.notify(sid, toolResultUpdate(ev.Message.ToolCallID, ev.Message.Content))
			}
		case agent.TodoUpdate:
			_ = s.notify(sid, planUpdate(ev.Todos))
		case agent.Queued:
			_ = s.notify(sid, textUpdate("agent_message_chunk", ev.Text))
			if err := s.waitAndResume(sess, ev.ResumeAt); err != nil {
				return "", err
			}
		case agent.PlanningRequest, agent.ConfirmationRequest, agent.BashApprovalRequest, agent.WebSearchApprovalRequest:
			awaiting = ev
		case agent.Finished:
			switch ev.Reason {
			case agent.FinishSuspended:
				if awaiting == nil {
					return "end_turn", nil
				}
				answered, err := s.approve(sid, sess, awaiting)
				if err != nil {
					return "", err
				}
				if !answered {
					sess.Cancel()
					return "cancelled", nil
				}
				awaiting = nil
			case agent.FinishCancelled:
				return "cancelled", nil
			case agent.FinishFailed:
				return "refusal", nil
			default:
				return "end_turn", nil
			}
		}
	}
}

// Permission option ids offered to the client.
const (
	optionAllowOnce   = "allow_once"
	optionAllowAlways = "allow_always"
	optionReject      = "reject"
)

type permissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// approve answers a suspension. It reports false when the client cancelled
// the permission request or went away.
func (s *server) approve(sid string, sess *agent.Session, req agent.Event) (bool, error) {
	switch req := req.(type) {
	case agent.PlanningRequest:
		var pick []string
		if len(req.Options) > 0 {
			pick = req.Options[:1]
		}
		return true, sess.RespondPlanning(pick)
	case agent.ConfirmationRequest:
		return true, sess.RespondConfirmation(true, "")
	case agent.BashApprovalRequest:
		choice, ok := s.requestPermission(sid, req.Call, "execute", "Run: "+req.Command, []permissionOption{
			{OptionID: optionAllowOnce, Name: "Allow once", Kind: "allow_once"},
			{OptionID: optionAllowAlways, Name: "Always allow", Kind: "allow_always"},
			{OptionID: optionReject, Name: "Reject", Kind: "reject_once"},
		})
		if !ok {
			return false, nil
		}
		decision := agent.BashReject
		switch choice {
		case optionAllowOnce:
			decision = agent.BashApprove
		case optionAllowAlways:
			decision = agent.BashApproveAlways
		}
		return true, sess.RespondBash(decision)
	case agent.WebSearchApprovalRequest:
		choice, ok := s.requestPermission(sid, req.Call, "fetch", "Search the web: "+req.Query, []permissionOption{
			{OptionID: optionAllowOnce, Name: "Allow", Kind: "allow_once"},
			{OptionID: optionReject, Name: "Reject", Kind: "reject_once"},
		})
		if !ok {
			return false, nil
		}
		return true, sess.RespondWebSearch(choice == optionAllowOnce)
	}
	return true, nil
}

// requestPermission asks the client to pick one of options for call and
// blocks for the answer. ok is false when the client cancelled, input
// ended or ctx is done. An error response counts as a rejection.
func (s *server) requestPermission(sid string, call session.ToolCall, kind, title string, options []permissionOption) (choice string, ok bool) {
	id := fmt.Sprintf("conductor-%d", s.nextID.Add(1))
	reply := make(chan jsonrpcRequest, 1)
	s.replyMu.Lock()
	s.replies[id] = reply
	s.replyMu.Unlock()
	defer func() {
		s.replyMu.Lock()
		delete(s.replies, id)
		s.replyMu.Unlock()
	}()

	err := s.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "session/request_permission",
		"params": map[string]any{
			"sessionId": sid,
			"toolCall": map[string]any{
				"toolCallId": call.ID,
				"title":      title,
				"kind":       kind,
				"rawInput":   tools.DecodeArgs(call.Function.Arguments),
			},
			"options": options,
		},
	})
	if err != nil {
		s.log.Error(err, "could not request permission", "call", call.ID)
		return "", false
	}

	var resp jsonrpcRequest
	select {
	case resp = <-reply:
	case <-s.done:
		return "", false
	case <-s.ctx.Done():
		return "", false
	}
	if resp.Error != nil {
		s.log.Info("permission request failed, rejecting", "call", call.ID, "message", resp.Error.Message)
		return optionReject, true
	}
	var result struct {
		Outcome struct {
			Outcome  string `json:"outcome"`
			OptionID string `json:"optionId"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		s.log.Info("malformed permission response, rejecting", "call", call.ID, "err", err.Error())
		return optionReject, true
	}
	if result.Outcome.Outcome != "selected" {
		return "", false
	}
	return result.Outcome.OptionID, true
}

// deliver routes a client response to the request waiting for it.
func (s *server) deliver(resp jsonrpcRequest) {
	id := fmt.Sprint(resp.ID)
	s.replyMu.Lock()
	reply, ok := s.replies[id]
	s.replyMu.Unlock()
	if !ok {
		s.log.V(1).Info("ignoring response to unknown request", "id", id)
		return
	}
	select {
	case reply <- resp:
	default:
		s.log.V(1).Info("ignoring duplicate response", "id", id)
	}
}

func (s *server) waitAndResume(sess *agent.Session, at time.Time) error {
	timer := time.NewTimer(time.Until(at))
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		sess.Cancel()
		return s.ctx.Err()
	case <-timer.C:
	}
	return sess.Resume()
}

func textUpdate(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content":       map[string]any{"type": "text", "text": text},
	}
}

func toolCallUpdate(tc session.ToolCall) map[string]any {
	return map[string]any{
		"sessionUpdate": "tool_call",
		"toolCall": map[string]any{
			"id":   tc.ID,
			"name": tc.Function.Name,
			"args": tools.DecodeArgs(tc.Function.Arguments),
		},
	}
}

func toolResultUpdate(callID, result string) map[string]any {
	return map[string]any{
		"sessionUpdate": "tool_result",
		"toolResult":    map[string]any{"toolCallId": callID, "result": result},
	}
}

func planUpdate(todos []agent.Todo) map[string]any {
	entries := make([]map[string]any, len(todos))
	for i, td := range todos {
		entries[i] = map[string]any{"content": td.Content, "status": td.Status, "priority": "medium"}
	}
	return map[string]any{"sessionUpdate": "plan", "entries": entries}
}

// readFileFromURI reads the file behind a file:// URI.
func readFileFromURI(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if parsed.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", parsed.Scheme)
	}
	content, err := os.ReadFile(parsed.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// extractUserText creates a single string from all content blocks. File
// resource links are inlined up to maxContentSize bytes.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, resourceText(b))
		}
	}
	return strings.Join(parts, "\n")
}

func resourceText(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxContentSize {
				content = content[:maxContentSize] + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
