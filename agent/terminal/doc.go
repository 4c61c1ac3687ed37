// Package terminal implements the interactive command-line mode for a
// conductor session.
//
// The terminal reads user lines, submits them to an agent.Session and polls
// the session's event channel every 50ms, streaming tokens as they arrive
// and showing a spinner for status updates. Approval requests are answered
// on the next input line:
//
//   - AskUser: option numbers separated by commas, or free text
//   - ConfirmPlan: y, n, or feedback passed to the model
//   - Bash: y (once), a (always in this directory), n
//   - WebSearch: y or n
//
// # Usage
//
//	term := terminal.New(sess)
//	err := term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - /cancel stops the running turn and rolls back its file changes
//   - /status shows model, role, token usage, open changes and todos
//   - /brainstorm <topic> runs the persona brainstorm
//   - /resume sends a message the rate limiter held back
//   - /quit, /exit leave the session
package terminal
