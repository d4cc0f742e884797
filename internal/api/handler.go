// Package api provides HTTP handlers for the Ask Danta REST API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/askdanta/internal/config"
	"github.com/ashureev/askdanta/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, cfg *config.Config) *Handler {
	return &Handler{
		repo: repo,
		cfg:  cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// GetConfig returns the settings the chat UI needs.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"poll_interval_seconds": int64(h.cfg.Research.PollInterval.Seconds()),
		"max_poll_attempts":     h.cfg.Research.MaxPolls,
		"commands": []map[string]string{
			{"command": "/tasks", "description": "List your research tasks"},
			{"command": "/result <task_id>", "description": "Show the report of a completed task"},
		},
	})
}
