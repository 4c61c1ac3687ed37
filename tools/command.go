package tools

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/m4xw311/conductor/errors"
)

// BashTool runs a shell command in the working directory. Approval happens
// before it is called.
type BashTool struct {
	env *Env
}

func (t *BashTool) Name() string { return "Bash" }
func (t *BashTool) Description() string {
	return "Executes a shell command. Use for git, build commands, running programs, installing packages, etc. Do NOT use for file reading/writing - use the dedicated tools instead."
}

func (t *BashTool) Parameters() map[string]any {
	return schema([]string{"command"}, map[string]map[string]any{
		"command":     prop("string", "The shell command to execute"),
		"description": prop("string", "Brief description of what this command does (5-10 words)"),
	})
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := stringParam(args, "command", "")
	if command == "" {
		return "", failf("Error: command is required")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.env.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrapf(ctx.Err(), "command interrupted")
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", failf("Error executing command: %v", err)
		}
	}
	return combineOutput(stdout.String(), stderr.String()), nil
}

func combineOutput(stdout, stderr string) string {
	out := stdout
	if stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += stderr
	}
	if out == "" {
		return "(no output)"
	}
	return out
}
