package compaction

import (
	"fmt"
	"strings"

	"github.com/m4xw311/conductor/tools"
)

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

// SummarizeToolResult condenses a tool result into one line, using the
// tool's kind to pick a useful shape.
func SummarizeToolResult(kind tools.Kind, content string) string {
	var lines []string
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}

	if strings.HasPrefix(content, "Error:") || strings.HasPrefix(content, "error:") {
		first := strings.TrimSpace(content[len("Error:"):])
		if i := strings.IndexByte(first, '\n'); i >= 0 {
			first = first[:i]
		}
		return "Error: " + Truncate(first, 80)
	}

	switch kind {
	case tools.KindRead:
		return fmt.Sprintf("Read %d lines (%d chars)", len(lines), len(content))
	case tools.KindBash:
		trimmed := strings.TrimSpace(content)
		switch {
		case trimmed == "":
			return "Command completed (no output)"
		case len(lines) == 1:
			return "Output: " + Truncate(trimmed, 100)
		default:
			return fmt.Sprintf("Output: %d lines", len(lines))
		}
	case tools.KindGlob:
		return fmt.Sprintf("Found %d files", countNonBlank(lines))
	case tools.KindGrep:
		return fmt.Sprintf("Found %d matches", countNonBlank(lines))
	case tools.KindEdit:
		if strings.Contains(content, "✓") {
			return "Edit successful"
		}
		return Truncate(content, 80)
	case tools.KindWrite:
		return "File written"
	case tools.KindList:
		return fmt.Sprintf("Listed %d items", countNonBlank(lines))
	}
	if len(lines) <= 2 {
		return Truncate(content, 150)
	}
	return fmt.Sprintf("%d lines of output", len(lines))
}

func countNonBlank(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}
