// Package backend implements the HTTP client for the research backend.
package backend

// Task statuses reported by the backend.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Abstract states describing coarse research progress.
const (
	StateNotStarted  = "not_started"
	StatePlanning    = "planning"
	StateResearching = "researching"
	StateSummarizing = "summarizing"
	StateCompleted   = "completed"
	StateFailed      = "failed"
)

// AuthResult is the outcome of exchanging an access token.
type AuthResult struct {
	BearerToken string
	UserID      string
}

// SubmitRequest is the body of POST /research.
type SubmitRequest struct {
	Question string         `json:"question"`
	Config   map[string]any `json:"config,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatus is the response of GET /research/{id}/status.
type TaskStatus struct {
	Status        string `json:"status"`
	AbstractState string `json:"graph_abstract_state,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Terminal reports whether the backend will not change this task any more.
func (s *TaskStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Result is the response of GET /research/{id}/result.
type Result struct {
	FinalReport string `json:"final_report"`
	SourceStr   string `json:"source_str,omitempty"`
}

// Task is one entry of GET /research/tasks.
type Task struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	AbstractState string `json:"graph_abstract_state,omitempty"`
	CreatedAt     string `json:"created_at"`
}
