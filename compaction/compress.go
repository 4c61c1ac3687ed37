// Package compaction estimates transcript size and compresses old history
// into a summary so a conversation fits in the model's context window.
package compaction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
)

const summaryHeader = "[Previous conversation summary - %d messages compressed]\n"

// Policy controls when and how aggressively a transcript is compressed.
// Trigger and Budget are fractions of MaxContext.
type Policy struct {
	MaxContext int
	Trigger    float64
	Budget     float64
	MinKeep    int
	MaxKeep    int
	SummaryCap int
}

// DefaultPolicy compresses at 70% of maxContext and sizes the kept tail
// from a 30% budget.
func DefaultPolicy(maxContext int) Policy {
	return Policy{
		MaxContext: maxContext,
		Trigger:    0.70,
		Budget:     0.30,
		MinKeep:    6,
		MaxKeep:    20,
		SummaryCap: 8000,
	}
}

// TriggerTokens is the estimate at or above which compression runs.
func (p Policy) TriggerTokens() int {
	return int(float64(p.MaxContext) * p.Trigger)
}

// KeepRecent sizes the uncompressed tail from the average message size.
func (p Policy) KeepRecent(tokens, count int) int {
	if count == 0 || tokens/count == 0 {
		return p.MinKeep
	}
	budget := int(float64(p.MaxContext) * p.Budget)
	keep := budget / (tokens / count)
	if keep < p.MinKeep {
		return p.MinKeep
	}
	if keep > p.MaxKeep {
		return p.MaxKeep
	}
	return keep
}

// Result describes one compression pass.
type Result struct {
	Messages   []session.Message
	Compressed bool
	// Aggressive is set when the summary itself had to be dropped.
	Aggressive bool
	Dropped    int
	KeepRecent int
	Before     int
	After      int
}

// Compress summarizes everything between the first message and the most
// recent tail once the transcript reaches the policy trigger. Below the
// trigger the input is returned untouched.
func Compress(messages []session.Message, p Policy) Result {
	before := TotalTokens(messages)
	res := Result{Messages: messages, Before: before, After: before}
	if len(messages) == 0 || before < p.TriggerTokens() {
		return res
	}

	keep := p.KeepRecent(before, len(messages))
	res.KeepRecent = keep
	if len(messages)-1 <= keep {
		return res
	}

	cut := len(messages) - keep
	middle := messages[1:cut]
	summary := fmt.Sprintf(summaryHeader, len(middle)) + Summarize(messages, middle, p.SummaryCap)

	out := make([]session.Message, 0, keep+2)
	out = append(out, messages[0], session.System(summary))
	out = append(out, messages[cut:]...)

	if TotalTokens(out) >= p.TriggerTokens() {
		out = append(out[:1], out[2:]...)
		res.Aggressive = true
	}

	res.Messages = out
	res.Compressed = true
	res.Dropped = len(middle)
	res.After = TotalTokens(out)
	return res
}

// IsSummary reports whether m was produced by Compress.
func IsSummary(m session.Message) bool {
	return m.Role == session.RoleSystem && strings.HasPrefix(m.Content, "[Previous conversation summary - ")
}

// Summarize renders middle as summary lines, trimming the oldest lines
// while the text exceeds limit characters. all is used to resolve tool
// names for tool results.
func Summarize(all, middle []session.Message, limit int) string {
	names := map[string]string{}
	for _, m := range all {
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Function.Name
		}
	}

	var lines []string
	for _, m := range middle {
		switch m.Role {
		case session.RoleUser:
			lines = append(lines, "User: "+Truncate(m.Content, 120))
		case session.RoleAssistant:
			var parts []string
			if len(m.ToolCalls) > 0 {
				used := make([]string, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					used[i] = tc.Function.Name
				}
				parts = append(parts, "Assistant used: "+strings.Join(used, ", "))
			}
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, "Assistant: "+Truncate(m.Content, 150))
			}
			if len(parts) > 0 {
				lines = append(lines, strings.Join(parts, " | "))
			}
		case session.RoleTool:
			kind := tools.KindOf(names[m.ToolCallID])
			lines = append(lines, "  → "+SummarizeToolResult(kind, m.Content))
		case session.RoleSystem:
			// Earlier summaries are folded in line by line.
			if IsSummary(m) {
				body := m.Content[strings.IndexByte(m.Content, '\n')+1:]
				lines = append(lines, strings.Split(body, "\n")...)
			}
		}
	}

	size := 0
	for _, l := range lines {
		size += utf8.RuneCountInString(l) + 1
	}
	for size > limit && len(lines) > 1 {
		size -= utf8.RuneCountInString(lines[0]) + 1
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}
