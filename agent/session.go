package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/m4xw311/conductor/compaction"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/llm"
	"github.com/m4xw311/conductor/metrics"
	"github.com/m4xw311/conductor/ratelimit"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
	"github.com/m4xw311/conductor/transaction"
)

const eventBuffer = 256

const (
	replyPlanConfirmed  = "Plan Confirmed. Proceed."
	replyPlanRejected   = "Plan Rejected by user."
	replyCommandReject  = "Command rejected by user."
	replySearchRejected = "Web search rejected by user."
	replyCancelled      = "Cancelled by user."
	waitingStatus       = "Waiting for another session to finish its turn..."
)

var (
	ErrBusy             = errors.Sentinel("a turn is already in progress")
	ErrAwaitingApproval = errors.Sentinel("a tool call is awaiting a response")
	ErrQueued           = errors.Sentinel("a turn is queued by the rate limiter; resume or cancel it first")
	ErrNoPendingRequest = errors.Sentinel("no matching request is pending")
	ErrEmptyInput       = errors.Sentinel("input is empty")
)

// BashDecision answers a BashApprovalRequest.
type BashDecision int

const (
	BashApprove BashDecision = iota
	BashApproveAlways
	BashReject
)

// Usage is the provider-reported token total of the session.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Options wires a Session to its collaborators. Config, Client and Executor
// are required.
type Options struct {
	Config   *config.Config
	Client   llm.Client
	Executor *tools.Executor
	// Store defaults to an unrestricted store.
	Store *transaction.Store
	// Limiter defaults to one built from Config.Settings. Sessions calling
	// the same provider account should share one.
	Limiter *ratelimit.Limiter
	// Turns, when set, is a slot of weight one shared by sessions working in
	// the same directory; a worker holds it for the whole turn.
	Turns *semaphore.Weighted
	// Transcript, when set, is the persisted conversation to continue and
	// is saved after every applied change.
	Transcript *session.Session
	Metrics    *metrics.Collector
	// Dir is the working directory the command allow-list is keyed by.
	Dir string
	Log logr.Logger
}

// Session is one conversation. It owns the transcripts, the transaction
// store and the rate limiter, and runs at most one worker at a time.
// All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	cfg        *config.Config
	client     llm.Client
	executor   *tools.Executor
	store      *transaction.Store
	limiter    *ratelimit.Limiter
	turns      *semaphore.Weighted
	transcript *session.Session
	metrics    *metrics.Collector
	dir        string
	log        logr.Logger

	history []session.Message
	context []session.Message
	role    *ActiveRole
	todos   []Todo
	usage   Usage

	last     Usage
	model    string
	converse bool

	events    chan envelope
	local     []Event
	turn      string
	cancel    context.CancelFunc
	cancelled map[string]bool
	busy      bool
	awaiting  Event
	queued    *job
}

// New creates a session. A fresh conversation starts with the configured
// system prompt.
func New(opts Options) *Session {
	s := &Session{
		cfg:        opts.Config,
		client:     opts.Client,
		executor:   opts.Executor,
		store:      opts.Store,
		limiter:    opts.Limiter,
		turns:      opts.Turns,
		transcript: opts.Transcript,
		metrics:    opts.Metrics,
		dir:        opts.Dir,
		log:        opts.Log,
		events:     make(chan envelope, eventBuffer),
		cancelled:  map[string]bool{},
	}
	if s.log.GetSink() == nil {
		s.log = logr.Discard()
	}
	if s.store == nil {
		s.store = transaction.NewStore("")
	}
	if s.limiter == nil {
		var lopts []ratelimit.Option
		if !s.cfg.Settings.RateLimiterEnabled {
			lopts = append(lopts, ratelimit.WithDisabled())
		}
		s.limiter = ratelimit.New(lopts...)
	}
	if s.transcript != nil {
		s.history = session.Clone(s.transcript.History)
		s.context = session.Clone(s.transcript.Context)
	}
	if len(s.context) == 0 && s.cfg.SystemPrompt != "" {
		sys := session.System(s.cfg.SystemPrompt)
		s.context = []session.Message{sys}
		if len(s.history) == 0 {
			s.history = []session.Message{sys}
		}
	}
	return s
}

// Submit starts a turn for user input. A leading "@role:" directive naming
// a configured role activates it and is stripped from the message.
func (s *Session) Submit(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}

	if d, ok := ParseRoleDirective(input); ok {
		if role, exists := s.cfg.GetRole(d.Role); exists {
			from := roleName(s.role)
			s.role = &ActiveRole{Name: d.Role, Model: role.Model, Prompt: role.Prompt}
			s.local = append(s.local, RoleSwitch{From: from, To: d.Role})
			input = d.Content
		}
	}

	s.appendLocked(session.User(input), true)
	s.saveLocked()
	return s.startLocked(job{})
}

// Resume retries a turn held back by the preflight rate check.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	if s.queued == nil {
		return ErrNoPendingRequest
	}
	j := *s.queued
	s.queued = nil
	return s.startLocked(j)
}

// Cancel stops the current turn. The worker rolls back at its next
// suspension point; until its Finished event arrives every event of the
// turn is discarded. A pending approval or queued turn is dropped and its
// open tool calls are answered as cancelled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.busy && s.cancel != nil:
		s.cancel()
		s.cancelled[s.turn] = true
		return true
	case s.awaiting != nil || s.queued != nil:
		s.awaiting = nil
		s.queued = nil
		s.closeDanglingLocked()
		s.saveLocked()
		return true
	}
	return false
}

// RespondPlanning answers a PlanningRequest with the chosen options.
func (s *Session) RespondPlanning(selections []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.awaiting.(PlanningRequest)
	if !ok {
		return ErrNoPendingRequest
	}
	return s.replyLocked(req.CallID, "User selected: "+debugList(selections), req.remaining)
}

// RespondConfirmation answers a ConfirmationRequest. Feedback other than
// blank, "y" or "n" is passed to the model.
func (s *Session) RespondConfirmation(accepted bool, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.awaiting.(ConfirmationRequest)
	if !ok {
		return ErrNoPendingRequest
	}
	return s.replyLocked(req.CallID, confirmationReply(accepted, feedback), req.remaining)
}

// RespondBash answers a BashApprovalRequest. Approved commands run inside
// the resumed turn's transaction.
func (s *Session) RespondBash(decision BashDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.awaiting.(BashApprovalRequest)
	if !ok {
		return ErrNoPendingRequest
	}
	if decision == BashReject {
		return s.replyLocked(req.Call.ID, replyCommandReject, req.remaining)
	}
	if decision == BashApproveAlways {
		s.cfg.AllowCommand(req.Command, s.dir)
		if err := s.cfg.SaveApprovals(); err != nil {
			s.log.Error(err, "could not persist approval", "command", req.Command)
		}
		s.local = append(s.local, StatusUpdate{Text: "Command saved to allowed list for " + s.dir})
	}
	s.awaiting = nil
	call := req.Call
	return s.startLocked(job{approved: &call, pending: req.remaining})
}

// RespondWebSearch answers a WebSearchApprovalRequest.
func (s *Session) RespondWebSearch(approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.awaiting.(WebSearchApprovalRequest)
	if !ok {
		return ErrNoPendingRequest
	}
	if !approved {
		return s.replyLocked(req.Call.ID, replySearchRejected, req.remaining)
	}
	s.awaiting = nil
	call := req.Call
	return s.startLocked(job{approved: &call, pending: req.remaining})
}

// Poll returns every event available without blocking, each already
// applied to the transcripts.
func (s *Session) Poll() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.local
	s.local = nil
	dirty := false
	for {
		select {
		case env := <-s.events:
			ev, changed := s.applyLocked(env)
			dirty = dirty || changed
			if ev != nil {
				out = append(out, ev)
			}
		default:
			if dirty {
				s.saveLocked()
			}
			return out
		}
	}
}

// Next blocks until an event is available or ctx ends.
func (s *Session) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.local) > 0 {
			ev := s.local[0]
			s.local = s.local[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case env := <-s.events:
			s.mu.Lock()
			ev, changed := s.applyLocked(env)
			if changed {
				s.saveLocked()
			}
			s.mu.Unlock()
			if ev != nil {
				return ev, nil
			}
		}
	}
}

// History is a copy of the display transcript.
func (s *Session) History() []session.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Clone(s.history)
}

// Context is a copy of the provider transcript.
func (s *Session) Context() []session.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Clone(s.context)
}

// Role is the active role name, or "default".
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return roleName(s.role)
}

// Model is the model the next request will use.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelLocked()
}

func (s *Session) modelLocked() string {
	if s.role != nil && s.role.Model != "" {
		return s.role.Model
	}
	return s.baseModelLocked()
}

// baseModelLocked is the model set for the session, ignoring roles.
func (s *Session) baseModelLocked() string {
	if s.model != "" {
		return s.model
	}
	return s.cfg.Model
}

func (s *Session) Todos() []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Todo(nil), s.todos...)
}

func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Status describes the open file transaction.
func (s *Session) Status() string { return s.store.Status() }

// Busy reports whether a worker is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Pending returns the unanswered approval request, or nil.
func (s *Session) Pending() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// Queued reports whether a turn waits for Resume.
func (s *Session) Queued() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued != nil
}

func (s *Session) readyLocked() error {
	if s.busy {
		return ErrBusy
	}
	if s.awaiting != nil {
		return ErrAwaitingApproval
	}
	if s.queued != nil {
		return ErrQueued
	}
	return nil
}

// replyLocked answers callID with content and resumes the turn.
func (s *Session) replyLocked(callID, content string, remaining []session.ToolCall) error {
	s.awaiting = nil
	s.appendLocked(session.ToolResult(callID, content), true)
	s.saveLocked()
	return s.startLocked(job{pending: remaining})
}

// startLocked runs the preflight check and spawns a worker for j.
func (s *Session) startLocked(j job) error {
	model := s.modelLocked()
	if err := s.limiter.Preflight(ratePolicy(s.cfg, model)); err != nil {
		var paused *ratelimit.PausedError
		if !errors.As(err, &paused) {
			return err
		}
		s.queued = &j
		s.appendLocked(session.System(paused.Error()), false)
		s.saveLocked()
		s.local = append(s.local, Queued{Text: paused.Error(), ResumeAt: paused.ResumeAt})
		return nil
	}

	if res := compaction.Compress(s.context, compressionPolicy(s.cfg, model)); res.Compressed {
		s.log.Info("compressed context", "dropped", res.Dropped, "before", res.Before, "after", res.After)
		s.context = res.Messages
		s.local = append(s.local, StatusUpdate{Text: fmt.Sprintf("Context compressed: %d messages summarized", res.Dropped)})
		s.saveLocked()
	}

	turn := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.turn = turn
	s.cancel = cancel
	s.busy = true

	j.messages = session.Clone(s.context)
	if s.role != nil {
		r := *s.role
		j.role = &r
	}
	emit := func(ev Event) { s.events <- envelope{turn: turn, event: ev} }
	w := &worker{
		cfg:      s.cfg,
		client:   s.client,
		executor: s.executor,
		store:    s.store,
		limiter:  s.limiter,
		metrics:  s.metrics,
		dir:      s.dir,
		log:      s.log.WithValues("turn", turn),
		emit:     emit,
		model:    s.baseModelLocked(),
		converse: s.converse,
	}
	go func() {
		defer cancel()
		if !s.acquireTurn(ctx, emit) {
			emit(Finished{Reason: FinishCancelled})
			return
		}
		reason := w.run(ctx, j)
		s.releaseTurn()
		emit(Finished{Reason: reason})
	}()
	return nil
}

// acquireTurn takes the shared turn slot, reporting when it has to wait.
// It fails only when ctx ends first.
func (s *Session) acquireTurn(ctx context.Context, emit func(Event)) bool {
	if s.turns == nil || s.turns.TryAcquire(1) {
		return true
	}
	emit(StatusUpdate{Text: waitingStatus})
	return s.turns.Acquire(ctx, 1) == nil
}

func (s *Session) releaseTurn() {
	if s.turns != nil {
		s.turns.Release(1)
	}
}

// applyLocked folds one event into the session state. It returns the event
// to hand to the consumer (nil when dropped) and whether the transcripts
// changed.
func (s *Session) applyLocked(env envelope) (Event, bool) {
	if s.cancelled[env.turn] {
		f, ok := env.event.(Finished)
		if !ok {
			return nil, false
		}
		delete(s.cancelled, env.turn)
		s.finishLocked(env.turn)
		s.closeDanglingLocked()
		return f, true
	}

	changed := false
	switch ev := env.event.(type) {
	case MessageAdded:
		s.appendLocked(ev.Message, true)
		changed = true
	case Notice:
		s.appendLocked(ev.Message, false)
		changed = true
	case Thought:
		s.history = append(s.history, session.Message{Role: session.RoleThought, Content: ev.Text})
		changed = true
	case ContextReplaced:
		s.context = ev.Messages
		changed = true
	case UsageUpdate:
		s.usage.PromptTokens += ev.PromptTokens
		s.usage.CompletionTokens += ev.CompletionTokens
		s.last = Usage{PromptTokens: ev.PromptTokens, CompletionTokens: ev.CompletionTokens}
	case RoleSwitch:
		if role, ok := s.cfg.GetRole(ev.To); ok {
			s.role = &ActiveRole{Name: ev.To, Model: role.Model, Prompt: role.Prompt}
		}
	case TodoUpdate:
		s.todos = ev.Todos
	case PlanningRequest, ConfirmationRequest, BashApprovalRequest, WebSearchApprovalRequest:
		s.awaiting = ev
	case BrainstormComplete:
		s.appendLocked(session.Assistant(ev.Text), false)
		changed = true
	case Finished:
		s.finishLocked(env.turn)
	}
	return env.event, changed
}

func (s *Session) finishLocked(turn string) {
	if turn != s.turn {
		return
	}
	s.busy = false
	s.cancel = nil
}

// appendLocked adds m to the display transcript and, when toContext is set
// and m is valid for the provider, to the provider transcript.
func (s *Session) appendLocked(m session.Message, toContext bool) {
	s.history = append(s.history, m)
	if toContext && m.Role != session.RoleThought && m.Valid() {
		s.context = append(s.context, m)
	}
}

// closeDanglingLocked answers tool calls of the last assistant message that
// never received a result, so the provider context stays well formed.
func (s *Session) closeDanglingLocked() {
	for _, tc := range danglingCalls(s.context) {
		s.appendLocked(session.ToolResult(tc.ID, replyCancelled), true)
	}
}

func danglingCalls(msgs []session.Message) []session.ToolCall {
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == session.RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			last = i
			break
		}
		if msgs[i].Role == session.RoleUser {
			return nil
		}
	}
	if last < 0 {
		return nil
	}
	answered := map[string]bool{}
	for _, m := range msgs[last+1:] {
		if m.Role == session.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	var open []session.ToolCall
	for _, tc := range msgs[last].ToolCalls {
		if !answered[tc.ID] {
			open = append(open, tc)
		}
	}
	return open
}

func (s *Session) saveLocked() {
	if s.transcript == nil {
		return
	}
	s.transcript.History = session.Clone(s.history)
	s.transcript.Context = session.Clone(s.context)
	if err := s.transcript.Save(); err != nil {
		s.log.Error(err, "could not save session")
	}
}

func confirmationReply(accepted bool, feedback string) string {
	if !accepted {
		return replyPlanRejected
	}
	f := strings.TrimSpace(feedback)
	switch strings.ToLower(f) {
	case "", "y":
		return replyPlanConfirmed
	case "n":
		return replyPlanRejected
	}
	return "Plan Feedback: " + f
}

// debugList renders selections as a bracketed list of quoted strings.
func debugList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
