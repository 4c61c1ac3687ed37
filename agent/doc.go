// Package agent is the conversation orchestration engine.
//
// A Session owns one conversation: the display transcript, the provider
// context, the file transaction store and the rate limiter. Submit starts a
// turn, which runs on its own worker goroutine:
//
//	compress -> pace -> stream -> decode -> dispatch tools -> repeat
//
// until the model answers without tool calls. Every state change is sent
// back as an Event. Consumers drain them with Poll (on a fixed cadence) or
// Next (blocking); the session applies each event to its transcripts before
// handing it out and persists the result.
//
// # Approval
//
// AskUser, ConfirmPlan, WebSearch and Bash calls that are not allow-listed
// suspend the turn: the transaction is committed, a request event is
// emitted and the worker exits. The matching Respond method appends the
// reply and starts a new worker, which first dispatches the calls left over
// from the suspended batch.
//
// # Failure
//
// Provider errors and three consecutive empty responses roll the
// transaction back and end the turn with FinishFailed. Cancel is advisory:
// the worker stops at its next suspension point and rolls back, and every
// late event of the cancelled turn except Finished is discarded.
//
// # Roles
//
// "@role: text" at the start of user input, or a handoff line in assistant
// output, switches the model and injects the role prompt after the primary
// system message. Brainstorm runs a fixed set of personas over a topic and
// synthesizes their ideas.
//
// # Subpackages
//
// agent/terminal is the interactive REPL. agent/acp serves the Agent Client
// Protocol over stdio.
package agent
