package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/identity"
)

const maxLoginBody = 4 << 10

// ChatCloser closes a user's open chat connections.
type ChatCloser interface {
	CloseUser(userID string)
}

// AuthHandler handles login, logout and the current user.
type AuthHandler struct {
	*Handler
	logins *identity.Service
	chats  ChatCloser
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(base *Handler, logins *identity.Service, chats ChatCloser) *AuthHandler {
	return &AuthHandler{Handler: base, logins: logins, chats: chats}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) userResponse(u *domain.User) map[string]any {
	return map[string]any{
		"user_id":          u.UserID,
		"username":         u.Username,
		"display_name":     u.Name(),
		"role":             u.Role,
		"is_admin":         u.IsAdmin(),
		"has_access_token": u.BackendToken(h.cfg.Backend.AccessToken) != "",
	}
}

// Login verifies credentials and starts a cookie session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.logins.Login(r.Context(), w, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			slog.Info("Login rejected", "username", req.Username, "ip", identity.IPFromRequest(r))
			Error(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		slog.Error("Login failed", "error", err, "username", req.Username)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	JSON(w, http.StatusOK, h.userResponse(user))
}

// Logout ends the cookie session and closes the user's chats.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.logins.Logout(r.Context(), w, r); err != nil {
		slog.Error("Logout failed", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "logout failed")
		return
	}
	if h.chats != nil && userID != "" {
		h.chats.CloseUser(userID)
	}
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// GetMe returns the current user's information.
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, h.userResponse(user))
}
