package compaction

import (
	"unicode/utf8"

	"github.com/m4xw311/conductor/session"
)

// roleOverhead approximates the tokens a provider spends framing one message.
const roleOverhead = 4

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// MessageTokens estimates one message, tool calls included.
func MessageTokens(m session.Message) int {
	n := roleOverhead + EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		n += EstimateTokens(tc.Function.Name) + EstimateTokens(tc.Function.Arguments)
	}
	return n
}

// TotalTokens estimates a whole transcript.
func TotalTokens(messages []session.Message) int {
	total := 0
	for _, m := range messages {
		total += MessageTokens(m)
	}
	return total
}
