package research

import (
	"fmt"
	"strings"

	"github.com/ashureev/askdanta/internal/backend"
)

// Author is the name shown on every message this package emits.
const Author = "Ask Danta"

// Step names shown while a question is being researched.
const (
	StepCreate = "Create research task"
	StepRun    = "Run research task"
	StepFetch  = "Fetch research report"
)

var stateDisplay = map[string]string{
	backend.StateNotStarted:  "📋 Not started yet",
	backend.StatePlanning:    "📝 Planning the outline",
	backend.StateResearching: "🔍 Researching and collecting sources",
	backend.StateSummarizing: "📊 Writing the report",
	backend.StateCompleted:   "✅ Completed",
	backend.StateFailed:      "❌ Failed",
}

// DisplayState returns the human label for an abstract state. Unknown
// states display their raw identifier.
func DisplayState(state string) string {
	if label, ok := stateDisplay[state]; ok {
		return label
	}
	return state
}

// Usage is shown for commands missing their argument.
const Usage = "ℹ️ Usage: `/result <task_id>` shows the report of a finished task. `/tasks` lists your tasks."

const (
	msgNoTasks          = "📋 You have no research tasks yet."
	msgNotAuthenticated = "❌ No backend credentials found. Refresh the page and sign in again."
	msgAuthExpired      = "❌ The backend rejected your credentials. Refresh the page to sign in again."
	msgUnknownError     = "unknown error"
)

// RenderTaskList formats the /tasks reply.
func RenderTaskList(tasks []backend.Task) string {
	if len(tasks) == 0 {
		return msgNoTasks
	}

	var b strings.Builder
	b.WriteString("## 📋 Your research tasks\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- **Task ID:** `%s`\n", t.TaskID)
		fmt.Fprintf(&b, "  **State:** %s\n", DisplayState(t.AbstractState))
		fmt.Fprintf(&b, "  **Created:** %s\n\n", t.CreatedAt)
	}
	b.WriteString("\n💡 Use `/result <task_id>` to see the report of a completed task.")
	return b.String()
}

// RenderReport formats a final report.
func RenderReport(taskID, report string) string {
	return fmt.Sprintf("## ✅ Research report\n\n**Task ID:** `%s`\n\n---\n\n%s", taskID, report)
}

// RenderSources formats the source listing. It returns "" for an empty
// listing, which callers skip.
func RenderSources(sources string) string {
	if strings.TrimSpace(sources) == "" {
		return ""
	}
	return "## 📚 Sources\n\n" + sources
}

// RenderNotCompleted formats the /result reply for an unfinished task.
func RenderNotCompleted(taskID, state string) string {
	return fmt.Sprintf("⏳ The task is not completed yet\n\n**Task ID:** `%s`\n**Current state:** %s",
		taskID, DisplayState(state))
}

// RenderProgress is the running step's output for an abstract state.
func RenderProgress(state string) string {
	return fmt.Sprintf("**Current state:** %s\n\nWorking on it, please wait...", DisplayState(state))
}

func failureReason(reason string) string {
	if reason == "" {
		return msgUnknownError
	}
	return reason
}

func renderTaskFailed(reason string) string {
	return fmt.Sprintf("❌ Task failed: %s", failureReason(reason))
}

func renderTimeout(taskID string) string {
	return fmt.Sprintf("⏱️ The task is taking longer than expected. Use `/result %s` later to see the result.", taskID)
}

func renderInterrupted(taskID string) string {
	return fmt.Sprintf("⏹️ Stopped following task `%s`. Use `/result %s` later to see the result.", taskID, taskID)
}

func renderBusy(taskID string) string {
	if taskID == "" {
		return "⏳ A research task is already running in this chat. Wait for it to finish before asking again."
	}
	return fmt.Sprintf("⏳ Task `%s` is still running in this chat. Wait for it to finish before asking again, or check `/tasks`.", taskID)
}
