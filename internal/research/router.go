// Package research turns chat messages into backend research tasks and
// renders their progress and results.
package research

import "strings"

// ActionKind identifies what an inbound chat message asks for.
type ActionKind int

const (
	ActionEmpty ActionKind = iota
	ActionSubmitQuestion
	ActionListTasks
	ActionShowResult
	ActionUsage
)

func (k ActionKind) String() string {
	switch k {
	case ActionSubmitQuestion:
		return "submit_question"
	case ActionListTasks:
		return "list_tasks"
	case ActionShowResult:
		return "show_result"
	case ActionUsage:
		return "usage"
	default:
		return "empty"
	}
}

// Command names.
const (
	CommandTasks  = "/tasks"
	CommandResult = "/result"
)

// Action is a routed chat message. Arg holds the question for
// ActionSubmitQuestion and the task id for ActionShowResult.
type Action struct {
	Kind ActionKind
	Arg  string
}

// Route classifies raw chat text. Command names match case-insensitively;
// arguments keep their case.
func Route(raw string) Action {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Action{Kind: ActionEmpty}
	}

	if strings.EqualFold(text, CommandTasks) {
		return Action{Kind: ActionListTasks}
	}

	fields := strings.Fields(text)
	if strings.EqualFold(fields[0], CommandResult) {
		if len(fields) < 2 {
			return Action{Kind: ActionUsage}
		}
		return Action{Kind: ActionShowResult, Arg: fields[1]}
	}

	return Action{Kind: ActionSubmitQuestion, Arg: text}
}
