package tools

import (
	"context"
	"encoding/json"
)

// handledByApplication answers direct calls of tools the agent intercepts.
const handledByApplication = "Tool handled by application"

// AskUserTool declares a multiple choice question for the user.
type AskUserTool struct{}

func (AskUserTool) Name() string { return "AskUser" }
func (AskUserTool) Description() string {
	return "Ask the user a multiple choice question to clarify requirements or get input during planning."
}

func (AskUserTool) Parameters() map[string]any {
	return schema([]string{"question", "options"}, map[string]map[string]any{
		"question": prop("string", "The question to ask the user"),
		"options": {
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "The available options for the user to choose from",
		},
	})
}

func (AskUserTool) Execute(context.Context, map[string]any) (string, error) {
	return handledByApplication, nil
}

// ConfirmPlanTool declares a plan the user must confirm.
type ConfirmPlanTool struct{}

func (ConfirmPlanTool) Name() string { return "ConfirmPlan" }
func (ConfirmPlanTool) Description() string {
	return "Present a plan to the user for confirmation before executing. Use after gathering requirements."
}

func (ConfirmPlanTool) Parameters() map[string]any {
	return schema([]string{"plan"}, map[string]map[string]any{
		"plan": prop("string", "The detailed plan to present to the user"),
	})
}

func (ConfirmPlanTool) Execute(context.Context, map[string]any) (string, error) {
	return handledByApplication, nil
}

// TodoWriteTool declares the task list update.
type TodoWriteTool struct{}

func (TodoWriteTool) Name() string { return "TodoWrite" }
func (TodoWriteTool) Description() string {
	return "Update task list to track progress. IMPORTANT: Always include ALL existing tasks when updating - mark completed ones as 'completed', don't remove them. Only ONE task should be 'in_progress' at a time. Update status as you complete tasks rather than creating new lists."
}

func (TodoWriteTool) Parameters() map[string]any {
	item := schema([]string{"content", "status", "activeForm"}, map[string]map[string]any{
		"content": prop("string", "What needs to be done (imperative form, e.g., 'Fix the bug')"),
		"status": {
			"type":        "string",
			"enum":        []string{TodoPending, TodoInProgress, TodoCompleted},
			"description": "Current status of the task",
		},
		"activeForm": prop("string", "Present continuous form shown during execution (e.g., 'Fixing the bug')"),
	})
	return schema([]string{"todos"}, map[string]map[string]any{
		"todos": {
			"type":        "array",
			"description": "The full todo list including completed items. Preserve completed tasks, update statuses.",
			"items":       item,
		},
	})
}

func (TodoWriteTool) Execute(context.Context, map[string]any) (string, error) {
	return "Todo list updated.", nil
}

const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// Todo is one task list entry.
type Todo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// Question is a parsed AskUser call.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ParseQuestion reads AskUser arguments, defaulting the prompt text.
func ParseQuestion(raw string) Question {
	var q Question
	_ = json.Unmarshal([]byte(raw), &q)
	if q.Question == "" {
		q.Question = "Select options"
	}
	return q
}

// ParsePlan reads the plan text of a ConfirmPlan call.
func ParsePlan(raw string) string {
	return stringParam(DecodeArgs(raw), "plan", "")
}

// ParseCommand reads the command of a Bash call.
func ParseCommand(raw string) string {
	return stringParam(DecodeArgs(raw), "command", "")
}

// ParseQuery reads the query of a WebSearch call.
func ParseQuery(raw string) string {
	return stringParam(DecodeArgs(raw), "query", "")
}

// ParseTodos reads a TodoWrite call. Entries missing a field are skipped;
// unknown statuses become pending.
func ParseTodos(raw string) []Todo {
	var args struct {
		Todos []map[string]any `json:"todos"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	todos := make([]Todo, 0, len(args.Todos))
	for _, item := range args.Todos {
		content, ok1 := item["content"].(string)
		status, ok2 := item["status"].(string)
		active, ok3 := item["activeForm"].(string)
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		switch status {
		case TodoInProgress, TodoCompleted:
		default:
			status = TodoPending
		}
		todos = append(todos, Todo{Content: content, Status: status, ActiveForm: active})
	}
	return todos
}
