package agent

import (
	"context"

	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
)

const todoAck = "Todo list updated."

// dispatch routes a batch of tool calls in order. It reports true when a
// call suspended the turn; the calls after it travel with the request event.
func (w *worker) dispatch(ctx context.Context, calls []session.ToolCall) bool {
	for i, tc := range calls {
		rest := append([]session.ToolCall(nil), calls[i+1:]...)
		args := tc.Function.Arguments

		switch tools.KindOf(tc.Function.Name) {
		case tools.KindAskUser:
			q := tools.ParseQuestion(args)
			w.emit(PlanningRequest{CallID: tc.ID, Question: q.Question, Options: q.Options, remaining: rest})
			return true
		case tools.KindConfirmPlan:
			w.emit(ConfirmationRequest{CallID: tc.ID, Plan: tools.ParsePlan(args), remaining: rest})
			return true
		case tools.KindBash:
			cmd := tools.ParseCommand(args)
			if !w.cfg.IsCommandAllowed(cmd, w.dir) {
				w.emit(BashApprovalRequest{Call: tc, Command: cmd, remaining: rest})
				return true
			}
			w.log.V(1).Info("running allow-listed command", "command", cmd)
			w.execute(ctx, tc)
		case tools.KindWebSearch:
			w.emit(WebSearchApprovalRequest{Call: tc, Query: tools.ParseQuery(args), remaining: rest})
			return true
		case tools.KindTodoWrite:
			w.emit(TodoUpdate{Todos: tools.ParseTodos(args)})
			w.append(session.ToolResult(tc.ID, todoAck))
		default:
			w.execute(ctx, tc)
		}
	}
	return false
}

func (w *worker) execute(ctx context.Context, tc session.ToolCall) {
	w.emit(ToolStarted{Call: tc})
	w.emit(StatusUpdate{Text: "Running tool: " + tc.Function.Name + "..."})
	w.metrics.ToolCall(tc.Function.Name)
	result := w.executor.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
	w.append(session.ToolResult(tc.ID, result))
}
