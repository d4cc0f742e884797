package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/askdanta/internal/identity"
	"github.com/go-chi/chi/v5"
)

const (
	defaultThreadLimit = 50
	maxThreadLimit     = 200
)

// ListThreads returns the current user's chat threads, newest first.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultThreadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxThreadLimit)
	}

	threads, err := h.repo.ListThreads(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list threads", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// ListMessages returns the messages of one of the user's threads.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	threadID := chi.URLParam(r, "threadID")

	thread, err := h.repo.GetThread(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to get thread", "error", err, "thread_id", threadID)
		Error(w, http.StatusInternalServerError, "failed to get thread")
		return
	}
	if thread == nil || thread.UserID != userID {
		Error(w, http.StatusNotFound, "thread not found")
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "thread_id", threadID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"thread": thread, "messages": msgs})
}
