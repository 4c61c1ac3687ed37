package agent

import (
	"strings"
	"unicode"

	"github.com/m4xw311/conductor/session"
)

const (
	handoffPrefix = "Continue with the following task:\n"
	defaultRole   = "default"
)

// Directive is a parsed "@role: content" instruction.
type Directive struct {
	Role    string
	Content string
}

// ActiveRole is the role a conversation currently runs under.
type ActiveRole struct {
	Name   string
	Model  string
	Prompt string
}

// ParseRoleDirective reads "@name: rest" at the start of input. Names are
// letters, digits, '_' or '-' and are returned lower-cased.
func ParseRoleDirective(input string) (Directive, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "@") {
		return Directive{}, false
	}
	colon := strings.Index(trimmed, ":")
	if colon < 0 {
		return Directive{}, false
	}
	role := strings.ToLower(strings.TrimSpace(trimmed[1:colon]))
	if role == "" || !validRoleName(role) {
		return Directive{}, false
	}
	return Directive{Role: role, Content: strings.TrimSpace(trimmed[colon+1:])}, true
}

func validRoleName(name string) bool {
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// FindHandoff scans assistant output line by line for a directive at the
// start of a line or after "hand off to" / "handoff to".
func FindHandoff(content string) (Directive, bool) {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if d, ok := ParseRoleDirective(trimmed); ok {
			return d, true
		}
		lower := strings.ToLower(trimmed)
		if !strings.Contains(lower, "hand off to @") && !strings.Contains(lower, "handoff to @") {
			continue
		}
		if at := strings.Index(trimmed, "@"); at >= 0 {
			if d, ok := ParseRoleDirective(trimmed[at:]); ok {
				return d, true
			}
		}
	}
	return Directive{}, false
}

// withRole returns the request transcript for role: the role's prompt is
// inserted right after the primary system message.
func withRole(messages []session.Message, role *ActiveRole) []session.Message {
	if role == nil || role.Prompt == "" {
		return messages
	}
	injected := session.System("[Role: @" + role.Name + "]\n" + role.Prompt)
	if len(messages) == 0 {
		return []session.Message{injected}
	}
	out := make([]session.Message, 0, len(messages)+1)
	out = append(out, messages[0], injected)
	return append(out, messages[1:]...)
}

func roleName(role *ActiveRole) string {
	if role == nil {
		return defaultRole
	}
	return role.Name
}
