package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/app"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts app.Options
		addr string
	)
	cmd := &cobra.Command{
		Use:           "ws_bridge",
		Short:         "Serve conductor sessions over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, addr)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "Listen address")
	f.StringVar(&opts.Dir, "dir", "", "Project directory (defaults to the working directory)")
	f.StringVar(&opts.ConfigPath, "config", "", "Load configuration from this file")
	f.StringVarP(&opts.Model, "model", "m", "", "Override the configured model")
	f.CountVarP(&opts.Verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	return cmd
}

func newMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handleWS(a))
	mux.Handle("/metrics", a.Metrics.Handler())
	return mux
}

func serve(ctx context.Context, a *app.App, addr string) error {
	srv := &http.Server{Addr: addr, Handler: newMux(a), ReadHeaderTimeout: 10 * time.Second}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("WebSocket server running on ws://localhost%s/ws\n", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	return g.Wait()
}

// command is a client message. Type is prompt, brainstorm, cancel, resume
// or answer.
type command struct {
	Type       string   `json:"type"`
	Text       string   `json:"text,omitempty"`
	Decision   string   `json:"decision,omitempty"`
	Selections []string `json:"selections,omitempty"`
}

// wireEvent is a session event as sent to the client.
type wireEvent struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Agent            string            `json:"agent,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Question         string            `json:"question,omitempty"`
	Options          []string          `json:"options,omitempty"`
	Call             *session.ToolCall `json:"call,omitempty"`
	Message          *session.Message  `json:"message,omitempty"`
	Todos            []agent.Todo      `json:"todos,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	PromptTokens     int               `json:"promptTokens,omitempty"`
	CompletionTokens int               `json:"completionTokens,omitempty"`
	Seconds          float64           `json:"seconds,omitempty"`
	ResumeAt         *time.Time        `json:"resumeAt,omitempty"`
}

// handleWS attaches one connection to one session: ?session=name resumes a
// stored conversation, otherwise a new one is started. A session is served
// to one connection at a time.
func handleWS(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("session")
		resume := name != ""
		if !resume {
			name = uuid.NewString()
		}
		release, err := a.Claim(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		defer release()
		sess, err := a.NewSession(name, resume)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.Log.Error(err, "upgrade failed")
			return
		}
		defer conn.Close()

		log := a.Log.WithValues("session", name, "remote", r.RemoteAddr)
		log.Info("client connected")
		err = bridge(r.Context(), conn, sess, name, log)
		if sess.Cancel() {
			log.Info("cancelled turn of disconnected client")
		}
		log.Info("client disconnected", "reason", fmt.Sprint(err))
	}
}

// bridge pumps session events to the socket and client commands to the
// session until either side stops.
func bridge(ctx context.Context, conn *websocket.Conn, sess *agent.Session, name string, log logr.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	out := make(chan wireEvent, 64)
	send := func(ev wireEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-out:
				if err := conn.WriteJSON(ev); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		for {
			ev, err := sess.Next(ctx)
			if err != nil {
				return err
			}
			if err := send(encode(ev)); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		// ReadJSON does not watch ctx; closing the connection unblocks it.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		if err := send(wireEvent{Type: "session", Text: name}); err != nil {
			return err
		}
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return err
			}
			log.V(1).Info("command", "type", cmd.Type)
			if err := apply(sess, cmd); err != nil {
				if err := send(wireEvent{Type: "error", Text: err.Error()}); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

func apply(sess *agent.Session, cmd command) error {
	switch cmd.Type {
	case "prompt":
		return sess.Submit(cmd.Text)
	case "brainstorm":
		return sess.Brainstorm(cmd.Text)
	case "cancel":
		sess.Cancel()
		return nil
	case "resume":
		return sess.Resume()
	case "answer":
		return answer(sess, cmd)
	}
	return errors.New("unknown command type '%s'", cmd.Type)
}

// answer replies to the pending approval request. Decision is yes, always
// or no; Text carries plan feedback.
func answer(sess *agent.Session, cmd command) error {
	yes := cmd.Decision == "yes" || cmd.Decision == "always"
	switch sess.Pending().(type) {
	case agent.PlanningRequest:
		return sess.RespondPlanning(cmd.Selections)
	case agent.ConfirmationRequest:
		return sess.RespondConfirmation(yes, cmd.Text)
	case agent.BashApprovalRequest:
		switch cmd.Decision {
		case "always":
			return sess.RespondBash(agent.BashApproveAlways)
		case "yes":
			return sess.RespondBash(agent.BashApprove)
		}
		return sess.RespondBash(agent.BashReject)
	case agent.WebSearchApprovalRequest:
		return sess.RespondWebSearch(yes)
	}
	return agent.ErrNoPendingRequest
}

func encode(ev agent.Event) wireEvent {
	switch ev := ev.(type) {
	case agent.Token:
		return wireEvent{Type: "token", Text: ev.Text}
	case agent.ThinkingToken:
		return wireEvent{Type: "thinking", Text: ev.Text}
	case agent.Thought:
		return wireEvent{Type: "thought", Text: ev.Text}
	case agent.UsageUpdate:
		return wireEvent{Type: "usage", PromptTokens: ev.PromptTokens, CompletionTokens: ev.CompletionTokens}
	case agent.StatusUpdate:
		return wireEvent{Type: "status", Text: ev.Text}
	case agent.Queued:
		at := ev.ResumeAt
		return wireEvent{Type: "queued", Text: ev.Text, ResumeAt: &at}
	case agent.Paused:
		return wireEvent{Type: "paused", Seconds: ev.Duration.Seconds()}
	case agent.Resumed:
		return wireEvent{Type: "resumed"}
	case agent.MessageAdded:
		m := ev.Message
		return wireEvent{Type: "message", Message: &m}
	case agent.Notice:
		m := ev.Message
		return wireEvent{Type: "notice", Message: &m}
	case agent.ContextReplaced:
		return wireEvent{Type: "compressed", Text: fmt.Sprintf("%d messages summarized", ev.Dropped)}
	case agent.ToolStarted:
		c := ev.Call
		return wireEvent{Type: "tool", Call: &c}
	case agent.RoleSwitch:
		return wireEvent{Type: "role", From: ev.From, To: ev.To}
	case agent.TodoUpdate:
		return wireEvent{Type: "todos", Todos: ev.Todos}
	case agent.PlanningRequest:
		return wireEvent{Type: "ask", Question: ev.Question, Options: ev.Options}
	case agent.ConfirmationRequest:
		return wireEvent{Type: "confirm", Text: ev.Plan}
	case agent.BashApprovalRequest:
		c := ev.Call
		return wireEvent{Type: "approve_bash", Text: ev.Command, Call: &c}
	case agent.WebSearchApprovalRequest:
		c := ev.Call
		return wireEvent{Type: "approve_search", Text: ev.Query, Call: &c}
	case agent.Error:
		return wireEvent{Type: "error", Text: ev.Message}
	case agent.BrainstormToken:
		return wireEvent{Type: "brainstorm_token", Agent: ev.Agent, Text: ev.Text}
	case agent.BrainstormAgentDone:
		return wireEvent{Type: "brainstorm_agent", Agent: ev.Agent, Text: ev.Text}
	case agent.BrainstormComplete:
		return wireEvent{Type: "brainstorm", Text: ev.Text}
	case agent.Finished:
		return wireEvent{Type: "finished", Reason: ev.Reason.String()}
	}
	return wireEvent{Type: fmt.Sprintf("%T", ev)}
}
