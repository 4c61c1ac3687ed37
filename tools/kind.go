package tools

// Kind identifies a tool independent of the alias the model used for it.
type Kind int

const (
	KindUnknown Kind = iota
	KindBash
	KindRead
	KindEdit
	KindWrite
	KindGlob
	KindGrep
	KindList
	KindFileInfo
	KindAskUser
	KindConfirmPlan
	KindWebSearch
	KindTodoWrite
)

var kindNames = map[string]Kind{
	"Bash":                KindBash,
	"run_shell_command":   KindBash,
	"Read":                KindRead,
	"read_file":           KindRead,
	"read_lines":          KindRead,
	"Edit":                KindEdit,
	"edit_file":           KindEdit,
	"Write":               KindWrite,
	"write_file":          KindWrite,
	"Glob":                KindGlob,
	"glob":                KindGlob,
	"glob_files":          KindGlob,
	"Grep":                KindGrep,
	"grep":                KindGrep,
	"search":              KindGrep,
	"search_files":        KindGrep,
	"search_content":      KindGrep,
	"List":                KindList,
	"list_directory":      KindList,
	"FileInfo":            KindFileInfo,
	"file_info":           KindFileInfo,
	"AskUser":             KindAskUser,
	"ask_multiple_choice": KindAskUser,
	"ConfirmPlan":         KindConfirmPlan,
	"confirm_plan":        KindConfirmPlan,
	"WebSearch":           KindWebSearch,
	"web_search":          KindWebSearch,
	"TodoWrite":           KindTodoWrite,
	"todo_write":          KindTodoWrite,
}

// KindOf maps a tool name or alias to its kind.
func KindOf(name string) Kind {
	return kindNames[name]
}

func (k Kind) String() string {
	switch k {
	case KindBash:
		return "Bash"
	case KindRead:
		return "Read"
	case KindEdit:
		return "Edit"
	case KindWrite:
		return "Write"
	case KindGlob:
		return "Glob"
	case KindGrep:
		return "Grep"
	case KindList:
		return "List"
	case KindFileInfo:
		return "FileInfo"
	case KindAskUser:
		return "AskUser"
	case KindConfirmPlan:
		return "ConfirmPlan"
	case KindWebSearch:
		return "WebSearch"
	case KindTodoWrite:
		return "TodoWrite"
	default:
		return "Unknown"
	}
}

// NeedsApproval reports kinds whose side effects require human consent
// unless pre-approved.
func (k Kind) NeedsApproval() bool {
	return k == KindBash || k == KindWebSearch
}

// Interactive reports kinds answered by the user rather than executed.
func (k Kind) Interactive() bool {
	return k == KindAskUser || k == KindConfirmPlan
}
