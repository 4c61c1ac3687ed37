package agent

import (
	"time"

	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
)

// Event is one state change produced by a turn. Consumers receive events
// from Session.Poll or Session.Next after the session has applied them to
// its transcripts.
type Event interface{ isEvent() }

// Todo is one entry of the model-maintained task list.
type Todo = tools.Todo

// FinishReason tells how a turn ended.
type FinishReason int

const (
	FinishCompleted FinishReason = iota
	FinishSuspended
	FinishFailed
	FinishCancelled
)

func (r FinishReason) String() string {
	switch r {
	case FinishSuspended:
		return "suspended"
	case FinishFailed:
		return "failed"
	case FinishCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

// Token is streamed assistant content.
type Token struct{ Text string }

// ThinkingToken is streamed reasoning content.
type ThinkingToken struct{ Text string }

// Thought is the complete reasoning of one response. It is kept in the
// display transcript only.
type Thought struct{ Text string }

type UsageUpdate struct {
	PromptTokens     int
	CompletionTokens int
}

type StatusUpdate struct{ Text string }

// MessageAdded appends Message to both transcripts.
type MessageAdded struct{ Message session.Message }

// Notice appends Message to the display transcript only.
type Notice struct{ Message session.Message }

// ContextReplaced carries the provider context after the worker compressed it.
type ContextReplaced struct {
	Messages []session.Message
	Dropped  int
}

// ToolStarted is emitted before a tool call runs.
type ToolStarted struct{ Call session.ToolCall }

type RoleSwitch struct{ From, To string }

// Paused reports a rate-limit cooldown of Duration before the next request.
type Paused struct{ Duration time.Duration }

type Resumed struct{}

// Queued reports a turn held back by the preflight rate check. Resume
// retries it.
type Queued struct {
	Text     string
	ResumeAt time.Time
}

type TodoUpdate struct{ Todos []Todo }

// PlanningRequest asks the user to choose among Options.
// Answer with Session.RespondPlanning.
type PlanningRequest struct {
	CallID   string
	Question string
	Options  []string

	remaining []session.ToolCall
}

// ConfirmationRequest asks the user to accept a plan.
// Answer with Session.RespondConfirmation.
type ConfirmationRequest struct {
	CallID string
	Plan   string

	remaining []session.ToolCall
}

// BashApprovalRequest asks before running a command that is not allow-listed.
// Answer with Session.RespondBash.
type BashApprovalRequest struct {
	Call    session.ToolCall
	Command string

	remaining []session.ToolCall
}

// WebSearchApprovalRequest asks before searching the web.
// Answer with Session.RespondWebSearch.
type WebSearchApprovalRequest struct {
	Call  session.ToolCall
	Query string

	remaining []session.ToolCall
}

// Error reports a failed request. Message is the text shown to the user.
type Error struct {
	Err     error
	Message string
}

// Finished is the last event of every turn.
type Finished struct{ Reason FinishReason }

type BrainstormToken struct{ Agent, Text string }

type BrainstormAgentDone struct{ Agent, Text string }

type BrainstormComplete struct{ Text string }

func (Token) isEvent()                    {}
func (ThinkingToken) isEvent()            {}
func (Thought) isEvent()                  {}
func (UsageUpdate) isEvent()              {}
func (StatusUpdate) isEvent()             {}
func (MessageAdded) isEvent()             {}
func (Notice) isEvent()                   {}
func (ContextReplaced) isEvent()          {}
func (ToolStarted) isEvent()              {}
func (RoleSwitch) isEvent()               {}
func (Paused) isEvent()                   {}
func (Resumed) isEvent()                  {}
func (Queued) isEvent()                   {}
func (TodoUpdate) isEvent()               {}
func (PlanningRequest) isEvent()          {}
func (ConfirmationRequest) isEvent()      {}
func (BashApprovalRequest) isEvent()      {}
func (WebSearchApprovalRequest) isEvent() {}
func (Error) isEvent()                    {}
func (Finished) isEvent()                 {}
func (BrainstormToken) isEvent()          {}
func (BrainstormAgentDone) isEvent()      {}
func (BrainstormComplete) isEvent()       {}

// envelope tags an event with the turn that produced it.
type envelope struct {
	turn  string
	event Event
}
