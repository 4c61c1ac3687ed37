package compaction

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
)

func transcript(n, size int) []session.Message {
	msgs := []session.Message{session.System(strings.Repeat("s", size))}
	for i := 1; i < n; i++ {
		body := fmt.Sprintf("%03d", i) + strings.Repeat("x", size-3)
		if i%2 == 1 {
			msgs = append(msgs, session.User(body))
		} else {
			msgs = append(msgs, session.Assistant(body))
		}
	}
	return msgs
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("héé"), "counts characters, not bytes")

	m := session.Message{
		Role:    session.RoleAssistant,
		Content: "abcd",
		ToolCalls: []session.ToolCall{{
			Function: session.FunctionCall{Name: "List", Arguments: `{"path":"."}`},
		}},
	}
	assert.Equal(t, 4+1+1+3, MessageTokens(m))
	assert.Equal(t, 2*(4+1), TotalTokens([]session.Message{session.User("abcd"), session.User("efgh")}))
}

func TestBelowTriggerIsNoop(t *testing.T) {
	msgs := transcript(10, 40)
	res := Compress(msgs, DefaultPolicy(100000))
	assert.False(t, res.Compressed)
	assert.Equal(t, msgs, res.Messages)
	assert.Equal(t, res.Before, res.After)
}

func TestShortTranscriptIsNoop(t *testing.T) {
	msgs := transcript(6, 4000)
	res := Compress(msgs, DefaultPolicy(1000))
	assert.False(t, res.Compressed)
	assert.Equal(t, 6, res.KeepRecent)
	assert.Equal(t, msgs, res.Messages)
}

func TestCompressBuildsSummary(t *testing.T) {
	msgs := transcript(30, 200)
	p := DefaultPolicy(2000)
	res := Compress(msgs, p)

	require.True(t, res.Compressed)
	assert.False(t, res.Aggressive)
	assert.Equal(t, 11, res.KeepRecent)
	assert.Equal(t, 18, res.Dropped)
	require.Len(t, res.Messages, 1+1+11)
	assert.Equal(t, msgs[0], res.Messages[0])
	assert.True(t, IsSummary(res.Messages[1]))
	assert.True(t, strings.HasPrefix(res.Messages[1].Content, "[Previous conversation summary - 18 messages compressed]\n"))
	assert.Contains(t, res.Messages[1].Content, "User: 001")
	assert.Contains(t, res.Messages[1].Content, "Assistant: 002")
	assert.Equal(t, msgs[19:], res.Messages[2:])
	assert.Less(t, res.After, p.TriggerTokens())

	again := Compress(res.Messages, p)
	assert.False(t, again.Compressed)
	assert.Equal(t, res.Messages, again.Messages)
}

func TestCompressDropsSummaryWhenStillTooLarge(t *testing.T) {
	msgs := transcript(20, 200)
	res := Compress(msgs, DefaultPolicy(1000))

	require.True(t, res.Compressed)
	assert.True(t, res.Aggressive)
	require.Len(t, res.Messages, 1+6)
	assert.Equal(t, msgs[0], res.Messages[0])
	assert.Equal(t, msgs[14:], res.Messages[1:])
}

func TestCompressSafety(t *testing.T) {
	for n := 1; n <= 60; n++ {
		for _, size := range []int{8, 60, 300} {
			msgs := transcript(n, size)
			res := Compress(msgs, DefaultPolicy(600))
			require.NotEmpty(t, res.Messages)
			assert.Equal(t, msgs[0], res.Messages[0], "n=%d size=%d", n, size)
			if res.Compressed {
				assert.LessOrEqual(t, res.Dropped, len(msgs)-res.KeepRecent-1, "n=%d size=%d", n, size)
				assert.Equal(t, msgs[len(msgs)-res.KeepRecent:], res.Messages[len(res.Messages)-res.KeepRecent:])
			}
		}
	}
}

func TestSummarizeToolCallsAndCap(t *testing.T) {
	call := session.ToolCall{ID: "c1", Type: "function", Function: session.FunctionCall{Name: "Read", Arguments: `{}`}}
	all := []session.Message{
		session.System("sys"),
		{Role: session.RoleAssistant, Content: "looking", ToolCalls: []session.ToolCall{call}},
		session.ToolResult("c1", "a\nb\nc\n"),
	}
	got := Summarize(all, all[1:], 8000)
	assert.Equal(t, "Assistant used: Read | Assistant: looking\n  → Read 3 lines (6 chars)", got)

	var many []session.Message
	for i := 0; i < 200; i++ {
		many = append(many, session.User(fmt.Sprintf("line %03d %s", i, strings.Repeat("y", 100))))
	}
	capped := Summarize(many, many, 8000)
	assert.LessOrEqual(t, len(capped), 8000)
	assert.NotContains(t, capped, "line 000", "oldest lines are trimmed first")
	assert.Contains(t, capped, "line 199")
}

func TestSummarizeCapCountsCharacters(t *testing.T) {
	var msgs []session.Message
	for i := 0; i < 3; i++ {
		msgs = append(msgs, session.User(fmt.Sprintf("%d %s", i, strings.Repeat("é", 100))))
	}
	// Each line is 108 characters but 208 bytes; all three fit in 330.
	got := Summarize(msgs, msgs, 330)
	assert.Contains(t, got, "User: 0 ")
	assert.Contains(t, got, "User: 2 ")
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 330)
}

func TestSummarizeFoldsEarlierSummary(t *testing.T) {
	prior := session.System("[Previous conversation summary - 4 messages compressed]\nUser: first\n  → Found 2 files")
	got := Summarize([]session.Message{prior}, []session.Message{prior, session.User("second")}, 8000)
	assert.Equal(t, "User: first\n  → Found 2 files\nUser: second", got)
}

func TestSummarizeToolResult(t *testing.T) {
	tests := []struct {
		kind    tools.Kind
		content string
		want    string
	}{
		{tools.KindRead, "Error: file not found\nmore", "Error: file not found"},
		{tools.KindUnknown, "error: lower", "Error: lower"},
		{tools.KindRead, "l1\nl2\n", "Read 2 lines (6 chars)"},
		{tools.KindBash, "  ", "Command completed (no output)"},
		{tools.KindBash, "ok\n", "Output: ok"},
		{tools.KindBash, "a\nb\nc", "Output: 3 lines"},
		{tools.KindGlob, "a.go\nb.go\n\n", "Found 2 files"},
		{tools.KindGrep, "a.go:1:x\n", "Found 1 matches"},
		{tools.KindEdit, "main.go\n\n✓ Successfully edited", "Edit successful"},
		{tools.KindEdit, "no marker", "no marker"},
		{tools.KindWrite, "Successfully wrote to a", "File written"},
		{tools.KindList, "dir/\na\nb", "Listed 3 items"},
		{tools.KindUnknown, "short", "short"},
		{tools.KindUnknown, "1\n2\n3\n4", "4 lines of output"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SummarizeToolResult(tt.kind, tt.content), "%s %q", tt.kind, tt.content)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...", Truncate("abc", 2))
	assert.Equal(t, "日本...", Truncate("日本語", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
