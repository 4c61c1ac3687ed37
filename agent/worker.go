package agent

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/m4xw311/conductor/compaction"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/llm"
	"github.com/m4xw311/conductor/metrics"
	"github.com/m4xw311/conductor/ratelimit"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
	"github.com/m4xw311/conductor/tools"
	"github.com/m4xw311/conductor/transaction"
)

const (
	maxEmptyRetries = 2
	nudgeMessage    = "Please continue with your response."
	emptyWarning    = "⚠️ The model returned an empty response. This may be due to safety filters or API issues. Try rephrasing your request."
)

// job is the input of one worker: the transcript to continue from, calls
// left over from a suspended batch, and an approved call to run first.
type job struct {
	messages []session.Message
	role     *ActiveRole
	approved *session.ToolCall
	pending  []session.ToolCall
}

// worker runs one turn. It owns its copy of the provider context and the
// session's transaction for its lifetime.
type worker struct {
	cfg      *config.Config
	client   llm.Client
	executor *tools.Executor
	store    *transaction.Store
	limiter  *ratelimit.Limiter
	metrics  *metrics.Collector
	dir      string
	log      logr.Logger
	emit     func(Event)

	msgs []session.Message
	role *ActiveRole

	model    string
	converse bool
}

// run executes the turn and returns how it ended. The caller emits Finished
// once the turn's shared resources are released.
func (w *worker) run(ctx context.Context, j job) FinishReason {
	w.msgs = j.messages
	w.role = j.role
	reason := w.loop(ctx, j)
	w.metrics.Turn(reason.String())
	return reason
}

func (w *worker) loop(ctx context.Context, j job) FinishReason {
	if err := w.store.Begin(); err != nil {
		w.log.Error(err, "transaction already open, continuing in it")
	}

	if j.approved != nil {
		w.execute(ctx, *j.approved)
	}
	if len(j.pending) > 0 && w.dispatch(ctx, j.pending) {
		return w.suspend()
	}

	retries := 0
	for {
		if ctx.Err() != nil {
			return w.abort()
		}
		w.compress()

		policy := w.policy()
		err := w.limiter.Wait(ctx, policy,
			func(d time.Duration) {
				w.metrics.Pause()
				w.emit(Paused{Duration: d})
			},
			func() { w.emit(Resumed{}) },
		)
		if err != nil {
			return w.abort()
		}

		w.emit(StatusUpdate{Text: w.thinkingStatus()})
		w.limiter.RecordRequest()
		w.metrics.Request()
		res, err := w.request(ctx)
		if ctx.Err() != nil {
			return w.abort()
		}
		if err != nil {
			return w.fail(err)
		}

		if res.Empty() {
			retries++
			if retries > maxEmptyRetries {
				w.log.Info("giving up after empty responses", "attempts", retries)
				w.emit(Notice{Message: session.Assistant(emptyWarning)})
				w.rollback()
				return FinishFailed
			}
			w.log.V(1).Info("empty response, retrying", "retry", retries, "max", maxEmptyRetries)
			w.emit(StatusUpdate{Text: "Retrying..."})
			w.msgs = append(w.msgs, session.User(nudgeMessage))
			continue
		}
		retries = 0

		if res.Reasoning != "" {
			w.emit(Thought{Text: res.Reasoning})
		}
		w.append(res.Message())

		if len(res.ToolCalls) > 0 {
			if w.dispatch(ctx, res.ToolCalls) {
				return w.suspend()
			}
			continue
		}

		if w.handoff(res.Content) {
			continue
		}
		w.store.Commit()
		return FinishCompleted
	}
}

// request streams one completion, forwarding tokens and usage as they arrive.
func (w *worker) request(ctx context.Context) (stream.Result, error) {
	req := &llm.Request{
		Model:    w.modelName(),
		Messages: withRole(session.FilterValid(w.msgs), w.role),
	}
	if !w.converse {
		req.Tools = w.executor.Registry().Definitions()
	}
	w.log.V(1).Info("sending request", "model", req.Model, "messages", len(req.Messages))

	body, err := w.client.Stream(ctx, req)
	if err != nil {
		return stream.Result{}, err
	}
	defer body.Close()

	return stream.Decode(ctx, body, w.log, func(ev stream.Event) {
		switch ev := ev.(type) {
		case stream.ContentToken:
			w.emit(Token{Text: ev.Text})
		case stream.ReasoningToken:
			w.emit(ThinkingToken{Text: ev.Text})
		case stream.UsageReport:
			w.limiter.RecordUsage(ev.Total())
			w.metrics.Usage(ev.PromptTokens, ev.CompletionTokens)
			w.emit(UsageUpdate{PromptTokens: ev.PromptTokens, CompletionTokens: ev.CompletionTokens})
		}
	})
}

// handoff switches role when content names a configured one.
func (w *worker) handoff(content string) bool {
	d, ok := FindHandoff(content)
	if !ok {
		return false
	}
	role, ok := w.cfg.GetRole(d.Role)
	if !ok {
		w.log.V(1).Info("ignoring handoff to unknown role", "role", d.Role)
		return false
	}
	from := roleName(w.role)
	w.role = &ActiveRole{Name: d.Role, Model: role.Model, Prompt: role.Prompt}
	w.log.Info("handoff", "from", from, "to", d.Role)
	w.emit(RoleSwitch{From: from, To: d.Role})
	w.append(session.User(handoffPrefix + d.Content))
	return true
}

func (w *worker) append(m session.Message) {
	w.msgs = append(w.msgs, m)
	w.emit(MessageAdded{Message: m})
}

func (w *worker) compress() {
	res := compaction.Compress(w.msgs, compressionPolicy(w.cfg, w.modelName()))
	if !res.Compressed {
		return
	}
	w.log.Info("compressed context", "dropped", res.Dropped, "before", res.Before, "after", res.After)
	w.msgs = res.Messages
	w.emit(ContextReplaced{Messages: session.Clone(res.Messages), Dropped: res.Dropped})
}

func (w *worker) suspend() FinishReason {
	w.store.Commit()
	return FinishSuspended
}

func (w *worker) abort() FinishReason {
	w.rollback()
	return FinishCancelled
}

func (w *worker) fail(err error) FinishReason {
	apiErr := errors.ClassifyAPIError(err)
	w.log.Error(err, "request failed", "kind", apiErr.Kind.String())
	msg := apiErr.UserMessage()
	w.emit(Notice{Message: session.Assistant(msg)})
	w.emit(Error{Err: err, Message: msg})
	w.rollback()
	return FinishFailed
}

func (w *worker) rollback() {
	w.metrics.Rollback()
	if err := w.store.Rollback(); err != nil {
		w.log.Error(err, "rollback incomplete")
		w.emit(StatusUpdate{Text: "Rollback incomplete: " + err.Error()})
	}
}

func (w *worker) modelName() string {
	if w.role != nil && w.role.Model != "" {
		return w.role.Model
	}
	if w.model != "" {
		return w.model
	}
	return w.cfg.Model
}

func (w *worker) policy() ratelimit.Policy {
	return ratePolicy(w.cfg, w.modelName())
}

func (w *worker) thinkingStatus() string {
	if w.role != nil {
		return "@" + w.role.Name + " thinking..."
	}
	return "Thinking..."
}

func ratePolicy(cfg *config.Config, model string) ratelimit.Policy {
	rl, _ := cfg.GetRateLimit(model)
	return ratelimit.Policy{
		MaxContext:        rl.MaxContext,
		TokensPerMinute:   rl.TokensPerMinute,
		RequestsPerMinute: rl.RequestsPerMinute,
	}
}

func compressionPolicy(cfg *config.Config, model string) compaction.Policy {
	p := compaction.DefaultPolicy(cfg.ContextLimit(model))
	if cfg.Compression.Trigger > 0 {
		p.Trigger = cfg.Compression.Trigger
	}
	if cfg.Compression.Budget > 0 {
		p.Budget = cfg.Compression.Budget
	}
	return p
}
