package agent

import (
	"strings"

	"github.com/m4xw311/conductor/compaction"
	"github.com/m4xw311/conductor/session"
)

const statusCleared = "History Cleared"

// ContextStats describes how full the provider context is.
type ContextStats struct {
	PromptTokens     int
	CompletionTokens int
	Limit            int
	Messages         int
	APIMessages      int
	// Estimated is set when no usage was reported since the last clear.
	Estimated bool
}

func (c ContextStats) Tokens() int { return c.PromptTokens + c.CompletionTokens }

// Percent of Limit in use, or 0 without a limit.
func (c ContextStats) Percent() int {
	if c.Limit <= 0 {
		return 0
	}
	return c.Tokens() * 100 / c.Limit
}

// SetConverse toggles converse mode. Requests made in converse mode carry
// no tool definitions. Takes effect from the next turn.
func (s *Session) SetConverse(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converse = on
	s.log.Info("converse mode", "enabled", on)
}

func (s *Session) Converse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.converse
}

// SetModel changes the model of this session. A role naming its own model
// still takes precedence.
func (s *Session) SetModel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("model changed", "from", s.baseModelLocked(), "to", name)
	s.model = name
	return nil
}

// Clear drops the conversation, keeping only a leading system message.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	s.history = keepSystem(s.history)
	s.context = keepSystem(s.context)
	s.todos = nil
	s.last = Usage{}
	s.saveLocked()
	s.local = append(s.local, StatusUpdate{Text: statusCleared})
	return nil
}

func keepSystem(msgs []session.Message) []session.Message {
	if len(msgs) > 0 && msgs[0].Role == session.RoleSystem {
		return []session.Message{msgs[0]}
	}
	return nil
}

// ContextUsage reports the tokens of the latest request against the
// context limit of the current model, estimating when nothing was reported.
func (s *Session) ContextUsage() ContextStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ContextStats{
		PromptTokens:     s.last.PromptTokens,
		CompletionTokens: s.last.CompletionTokens,
		Limit:            s.cfg.ContextLimit(s.modelLocked()),
		Messages:         len(s.history),
		APIMessages:      len(session.FilterValid(s.context)),
	}
	if st.Tokens() == 0 {
		st.PromptTokens = compaction.TotalTokens(s.context)
		st.Estimated = true
	}
	return st
}
