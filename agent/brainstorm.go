package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/llm"
	"github.com/m4xw311/conductor/ratelimit"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/stream"
)

const (
	defaultBrainstormRounds = 2
	synthesisPrompt         = "Synthesize the brainstorming into 3-5 actionable points. Be brief and practical."
	synthesisAgent          = "Synthesis"
)

// Persona is one perspective in a brainstorm.
type Persona struct {
	Name   string
	Prompt string
}

// Personas speak in this order every round.
var Personas = []Persona{
	{
		Name:   "Pragmatist",
		Prompt: "You are the Pragmatist. Focus on: feasibility, implementation cost, quick wins.\nRULES: MAX 3 bullet points. Each bullet: 1-2 sentences. Be concise.",
	},
	{
		Name:   "Innovator",
		Prompt: "You are the Innovator. Focus on: creative solutions, novel approaches, 'what if' thinking.\nRULES: MAX 3 bullet points. Each bullet: 1-2 sentences. Build on previous ideas, don't repeat.",
	},
	{
		Name:   "Critic",
		Prompt: "You are the Critic. Focus on: risks, edge cases, what could go wrong.\nRULES: MAX 3 bullet points. Each bullet: 1-2 sentences. Only raise NEW concerns.",
	},
}

var consensusPhrases = []string{"no major concerns", "looks good", "agree with", "solid approach"}

type contribution struct {
	agent string
	text  string
}

// Brainstorm runs the personas over topic for up to rounds rounds and
// returns the synthesis. Each persona sees the topic and the earlier
// contributions of the current round only. Every request and its reported
// usage are counted by limiter when it is non-nil.
func Brainstorm(ctx context.Context, client llm.Client, limiter *ratelimit.Limiter, model string, rounds int, topic string, log logr.Logger, emit func(Event)) (string, error) {
	if rounds <= 0 {
		rounds = defaultBrainstormRounds
	}
	var all []contribution
	for round := 1; round <= rounds; round++ {
		emit(StatusUpdate{Text: fmt.Sprintf("Brainstorm round %d/%d...", round, rounds)})
		var current []contribution
		for _, p := range Personas {
			emit(StatusUpdate{Text: "Brainstorm: " + p.Name + " thinking..."})
			text, err := complete(ctx, client, limiter, model, p.Prompt, agentContext(topic, current)+"\n\nYour perspective:", p.Name, log, emit)
			if err != nil {
				return "", errors.Wrapf(err, "%s failed", p.Name)
			}
			current = append(current, contribution{agent: p.Name, text: text})
			emit(BrainstormAgentDone{Agent: p.Name, Text: text})
		}
		all = append(all, current...)
		if consensus(current) {
			log.V(1).Info("brainstorm reached consensus", "round", round)
			break
		}
	}

	emit(StatusUpdate{Text: "Brainstorm: synthesizing..."})
	ideas := make([]string, len(all))
	for i, c := range all {
		ideas[i] = "[" + c.agent[:1] + "] " + c.text
	}
	user := "TOPIC: " + topic + "\n\nIDEAS:\n" + strings.Join(ideas, "\n\n")
	synthesis, err := complete(ctx, client, limiter, model, synthesisPrompt, user, synthesisAgent, log, emit)
	if err != nil {
		return "", errors.Wrapf(err, "synthesis failed")
	}
	emit(BrainstormComplete{Text: synthesis})
	return synthesis, nil
}

func agentContext(topic string, current []contribution) string {
	var b strings.Builder
	b.WriteString("TOPIC: " + topic)
	for _, c := range current {
		b.WriteString("\n\n[" + c.agent[:1] + "]: " + c.text)
	}
	return b.String()
}

// consensus reports whether the round's last speaker, the Critic, signalled
// agreement.
func consensus(round []contribution) bool {
	if len(round) == 0 || round[len(round)-1].agent != "Critic" {
		return false
	}
	lower := strings.ToLower(round[len(round)-1].text)
	for _, phrase := range consensusPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// complete streams one tool-less completion, forwarding content tokens.
func complete(ctx context.Context, client llm.Client, limiter *ratelimit.Limiter, model, system, user, agent string, log logr.Logger, emit func(Event)) (string, error) {
	if limiter != nil {
		limiter.RecordRequest()
	}
	body, err := client.Stream(ctx, &llm.Request{
		Model:    model,
		Messages: []session.Message{session.System(system), session.User(user)},
	})
	if err != nil {
		return "", err
	}
	defer body.Close()
	res, err := stream.Decode(ctx, body, log, func(ev stream.Event) {
		switch ev := ev.(type) {
		case stream.ContentToken:
			emit(BrainstormToken{Agent: agent, Text: ev.Text})
		case stream.UsageReport:
			if limiter != nil {
				limiter.RecordUsage(ev.Total())
			}
		}
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Content), nil
}

// Brainstorm runs a brainstorm on topic as a turn of s. The synthesis is
// added to the display transcript when BrainstormComplete is applied.
func (s *Session) Brainstorm(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyInput
	}
	s.appendLocked(session.User("Brainstorm: "+topic), false)
	s.saveLocked()

	turn := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.turn = turn
	s.cancel = cancel
	s.busy = true

	emit := func(ev Event) { s.events <- envelope{turn: turn, event: ev} }
	model := s.cfg.Brainstorm.Model
	if model == "" {
		model = s.baseModelLocked()
	}
	rounds := s.cfg.Brainstorm.Rounds
	log := s.log.WithValues("turn", turn, "brainstorm", topic)
	go func() {
		defer cancel()
		if !s.acquireTurn(ctx, emit) {
			emit(Finished{Reason: FinishCancelled})
			return
		}
		reason := FinishCompleted
		if _, err := Brainstorm(ctx, s.client, s.limiter, model, rounds, topic, log, emit); err != nil {
			reason = FinishFailed
			if ctx.Err() != nil {
				reason = FinishCancelled
			} else {
				log.Error(err, "brainstorm failed")
				msg := "Brainstorm error: " + err.Error()
				emit(Notice{Message: session.Assistant(msg)})
				emit(Error{Err: err, Message: msg})
			}
		}
		s.metrics.Turn(reason.String())
		s.releaseTurn()
		emit(Finished{Reason: reason})
	}()
	return nil
}
