package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/session"
)

const pollInterval = 50 * time.Millisecond

const helpText = `Commands:
  /cancel             stop the running turn
  /status             show model, role, usage and open changes
  /context            show how full the model context is
  /model <name>       switch the model of this session
  /converse           toggle converse mode (no tool calls)
  /clear              drop the conversation, keeping the system prompt
  /brainstorm <topic> run a multi-persona brainstorm
  /resume             send a message held back by the rate limiter
  /quit, /exit        leave`

// Terminal handles the terminal/CLI interaction mode for a session.
type Terminal struct {
	sess *agent.Session
	in   io.Reader
	out  io.Writer
	spin *spinner.Spinner

	typeahead []string
	streaming bool
	speaker   string
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithInput reads user lines from r instead of stdin.
func WithInput(r io.Reader) Option {
	return func(t *Terminal) { t.in = r }
}

// WithOutput writes to w instead of stdout. The status spinner is only
// shown on stdout.
func WithOutput(w io.Writer) Option {
	return func(t *Terminal) { t.out = w }
}

// New creates a new Terminal instance
func New(s *agent.Session, opts ...Option) *Terminal {
	t := &Terminal{sess: s, in: os.Stdin, out: os.Stdout}
	for _, opt := range opts {
		opt(t)
	}
	if t.out == os.Stdout {
		t.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stdout))
	}
	return t
}

// Run starts the interactive terminal session. Lines typed while a turn
// runs are held until it finishes, except /cancel which acts at once. Run
// returns when the user quits or input ends.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	lines := readLines(t.in)
	if initialPrompt != "" {
		t.typeahead = append(t.typeahead, initialPrompt)
	} else {
		t.prompt()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	eof := false
	for {
		if !t.sess.Busy() && len(t.typeahead) > 0 {
			line := t.typeahead[0]
			t.typeahead = t.typeahead[1:]
			if t.handle(line) {
				t.render(t.sess.Poll())
				t.stopSpinner()
				return nil
			}
			continue
		}
		if eof && !t.sess.Busy() {
			t.render(t.sess.Poll())
			t.endLine()
			t.stopSpinner()
			return nil
		}

		select {
		case <-ctx.Done():
			t.sess.Cancel()
			t.stopSpinner()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				eof = true
				lines = nil
				continue
			}
			line = strings.TrimSpace(line)
			if line == "/cancel" {
				if !t.sess.Cancel() {
					fmt.Fprintln(t.out, "Nothing to cancel.")
				}
				continue
			}
			t.typeahead = append(t.typeahead, line)
		case <-ticker.C:
			t.render(t.sess.Poll())
		}
	}
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// handle acts on one line while no turn runs. It reports true on quit.
func (t *Terminal) handle(line string) bool {
	if req := t.sess.Pending(); req != nil {
		t.report(t.answer(req, line))
		t.promptIfIdle()
		return false
	}

	switch {
	case line == "":
	case line == "/quit" || line == "/exit":
		return true
	case line == "/help":
		fmt.Fprintln(t.out, helpText)
	case line == "/status":
		t.status()
	case line == "/context":
		fmt.Fprintln(t.out, formatContext(t.sess.ContextUsage()))
	case line == "/model" || strings.HasPrefix(line, "/model "):
		t.model(strings.TrimSpace(strings.TrimPrefix(line, "/model")))
	case line == "/converse":
		t.converse()
	case line == "/clear":
		if err := t.sess.Clear(); err != nil {
			t.report(err)
			break
		}
		t.render(t.sess.Poll())
		fmt.Fprintln(t.out, color.YellowString("History cleared."))
	case line == "/resume":
		t.report(t.sess.Resume())
	case line == "/brainstorm" || strings.HasPrefix(line, "/brainstorm "):
		t.report(t.sess.Brainstorm(strings.TrimPrefix(line, "/brainstorm")))
	default:
		t.report(t.sess.Submit(line))
	}
	t.promptIfIdle()
	return false
}

func (t *Terminal) answer(req agent.Event, line string) error {
	switch req := req.(type) {
	case agent.PlanningRequest:
		return t.sess.RespondPlanning(parseSelections(line, req.Options))
	case agent.ConfirmationRequest:
		accepted, feedback := parseConfirmation(line)
		return t.sess.RespondConfirmation(accepted, feedback)
	case agent.BashApprovalRequest:
		return t.sess.RespondBash(parseBashDecision(line))
	case agent.WebSearchApprovalRequest:
		return t.sess.RespondWebSearch(parseYes(line))
	}
	return nil
}

func (t *Terminal) render(events []agent.Event) {
	for _, ev := range events {
		t.renderEvent(ev)
	}
}

func (t *Terminal) renderEvent(ev agent.Event) {
	switch ev := ev.(type) {
	case agent.Token:
		t.stopSpinner()
		if !t.streaming {
			fmt.Fprint(t.out, color.BlueString("%s: ", t.label()))
			t.streaming = true
		}
		fmt.Fprint(t.out, ev.Text)
	case agent.ThinkingToken:
		t.stopSpinner()
		if !t.streaming {
			fmt.Fprint(t.out, color.HiBlackString("(thinking) "))
			t.streaming = true
		}
		fmt.Fprint(t.out, color.HiBlackString("%s", ev.Text))
	case agent.StatusUpdate:
		t.showStatus(ev.Text)
	case agent.ToolStarted:
		t.println(color.CyanString("● %s %s", ev.Call.Function.Name, truncate(ev.Call.Function.Arguments, 80)))
	case agent.MessageAdded:
		if ev.Message.Role == session.RoleTool {
			t.println(color.HiBlackString("  ⎿ %s", summarize(ev.Message.Content)))
		}
	case agent.Notice:
		t.println(color.YellowString("%s", ev.Message.Content))
	case agent.ContextReplaced:
		t.println(color.HiBlackString("Context compressed: %d messages summarized", ev.Dropped))
	case agent.RoleSwitch:
		t.println(color.MagentaString("→ @%s takes over from @%s", ev.To, ev.From))
	case agent.TodoUpdate:
		t.endLine()
		for _, td := range ev.Todos {
			fmt.Fprintln(t.out, todoLine(td))
		}
	case agent.Queued:
		t.println(color.YellowString("%s", ev.Text))
		fmt.Fprintf(t.out, "Type /resume after %s.\n", ev.ResumeAt.Format(time.Kitchen))
	case agent.Paused:
		t.showStatus(fmt.Sprintf("Rate limit reached, pausing for %s...", ev.Duration))
	case agent.Resumed:
		t.showStatus("Resuming...")
	case agent.PlanningRequest:
		t.println(color.YellowString("? %s", ev.Question))
		for i, opt := range ev.Options {
			fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt)
		}
		fmt.Fprint(t.out, "Choose (numbers separated by commas, or your own answer): ")
	case agent.ConfirmationRequest:
		t.println(color.YellowString("Proposed plan:"))
		fmt.Fprintln(t.out, ev.Plan)
		fmt.Fprint(t.out, "Proceed? (y/n or feedback): ")
	case agent.BashApprovalRequest:
		t.println(color.YellowString("Run `%s`?", ev.Command))
		fmt.Fprint(t.out, "[y]es / [a]lways in this directory / [n]o: ")
	case agent.WebSearchApprovalRequest:
		t.println(color.YellowString("Search the web for %q?", ev.Query))
		fmt.Fprint(t.out, "(y/n): ")
	case agent.Error:
		t.endLine()
	case agent.BrainstormToken:
		t.stopSpinner()
		if t.speaker != ev.Agent {
			t.endLine()
			fmt.Fprint(t.out, color.MagentaString("[%s] ", ev.Agent))
			t.speaker = ev.Agent
			t.streaming = true
		}
		fmt.Fprint(t.out, ev.Text)
	case agent.BrainstormAgentDone:
		t.endLine()
		t.speaker = ""
	case agent.BrainstormComplete:
		t.println(color.GreenString("Brainstorm synthesis:"))
		fmt.Fprintln(t.out, ev.Text)
	case agent.Finished:
		t.stopSpinner()
		t.endLine()
		t.speaker = ""
		switch ev.Reason {
		case agent.FinishCancelled:
			fmt.Fprintln(t.out, color.YellowString("Cancelled."))
		case agent.FinishSuspended:
			return
		}
		if len(t.typeahead) == 0 {
			t.prompt()
		}
	}
}

func (t *Terminal) status() {
	u := t.sess.Usage()
	fmt.Fprintf(t.out, "Model: %s\nRole: @%s\nTokens: %d (prompt %d, completion %d)\n%s\n",
		t.sess.Model(), t.sess.Role(), u.Total(), u.PromptTokens, u.CompletionTokens, t.sess.Status())
	for _, td := range t.sess.Todos() {
		fmt.Fprintln(t.out, todoLine(td))
	}
}

func (t *Terminal) model(name string) {
	if name == "" {
		fmt.Fprintf(t.out, "Usage: /model <model_name>\nCurrent model: %s\n", t.sess.Model())
		return
	}
	if err := t.sess.SetModel(name); err != nil {
		t.report(err)
		return
	}
	fmt.Fprintln(t.out, color.GreenString("Model changed to: %s", name))
}

func (t *Terminal) converse() {
	on := !t.sess.Converse()
	t.sess.SetConverse(on)
	if on {
		fmt.Fprintln(t.out, "Converse mode enabled. Tool calls are now disabled.")
	} else {
		fmt.Fprintln(t.out, "Converse mode disabled. Tool calls are now enabled.")
	}
}

const contextBarWidth = 20

// formatContext renders usage as a token summary, a fill bar and message
// counts.
func formatContext(st agent.ContextStats) string {
	filled := st.Percent() * contextBarWidth / 100
	if filled > contextBarWidth {
		filled = contextBarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", contextBarWidth-filled)
	est := ""
	if st.Estimated {
		est = " (estimated)"
	}
	return fmt.Sprintf("Context: %.1fk↑ + %.1fk↓ = %.1fk / %.1fk tokens (%d%%)%s\n[%s]\n%d messages (%d for API)",
		kilo(st.PromptTokens), kilo(st.CompletionTokens), kilo(st.Tokens()), kilo(st.Limit), st.Percent(), est,
		bar, st.Messages, st.APIMessages)
}

func kilo(n int) float64 { return float64(n) / 1000 }

func (t *Terminal) label() string {
	if role := t.sess.Role(); role != "default" {
		return "Conductor @" + role
	}
	return "Conductor"
}

func (t *Terminal) report(err error) {
	if err != nil {
		t.println(color.RedString("Error: %v", err))
	}
}

func (t *Terminal) prompt() {
	fmt.Fprint(t.out, color.GreenString("You: "))
}

func (t *Terminal) promptIfIdle() {
	if !t.sess.Busy() && t.sess.Pending() == nil && len(t.typeahead) == 0 {
		t.prompt()
	}
}

func (t *Terminal) println(s string) {
	t.stopSpinner()
	t.endLine()
	fmt.Fprintln(t.out, s)
}

func (t *Terminal) endLine() {
	if t.streaming {
		fmt.Fprintln(t.out)
		t.streaming = false
	}
}

func (t *Terminal) showStatus(text string) {
	if t.spin == nil {
		return
	}
	t.endLine()
	t.spin.Suffix = " " + text
	if !t.spin.Active() {
		t.spin.Start()
	}
}

func (t *Terminal) stopSpinner() {
	if t.spin != nil && t.spin.Active() {
		t.spin.Stop()
	}
}

// parseSelections maps "1, 3" to the numbered options. Anything that is
// not an option number is kept as typed.
func parseSelections(line string, options []string) []string {
	var out []string
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 1 && n <= len(options) {
			out = append(out, options[n-1])
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseConfirmation(line string) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true, ""
	case "n", "no":
		return false, ""
	}
	return true, line
}

func parseBashDecision(line string) agent.BashDecision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return agent.BashApprove
	case "a", "always":
		return agent.BashApproveAlways
	}
	return agent.BashReject
}

func parseYes(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func todoLine(td agent.Todo) string {
	switch td.Status {
	case "completed":
		return color.GreenString("  [x] %s", td.Content)
	case "in_progress":
		return color.YellowString("  [~] %s", td.ActiveForm)
	}
	return fmt.Sprintf("  [ ] %s", td.Content)
}

// summarize is the first line of a tool result plus a count of the rest.
func summarize(s string) string {
	s = strings.TrimRight(s, "\n")
	first, rest, found := strings.Cut(s, "\n")
	first = truncate(first, 100)
	if !found {
		return first
	}
	return fmt.Sprintf("%s (+%d lines)", first, strings.Count(rest, "\n")+1)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
