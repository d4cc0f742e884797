package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/store"
)

// ErrNotLoggedIn is returned when a request carries no valid login.
var ErrNotLoggedIn = errors.New("not logged in")

// Service manages browser logins bound to the session cookie.
type Service struct {
	repo     store.Repository
	verifier Verifier
	ttl      time.Duration
	isDev    bool
	now      func() time.Time
}

// NewService creates a login service.
func NewService(repo store.Repository, verifier Verifier, ttl time.Duration, isDev bool) *Service {
	if ttl <= 0 {
		ttl = DefaultLoginTTL
	}
	return &Service{repo: repo, verifier: verifier, ttl: ttl, isDev: isDev, now: time.Now}
}

// Login verifies the credentials, stores a login and sets the cookie.
func (s *Service) Login(ctx context.Context, w http.ResponseWriter, username, password string) (*domain.User, error) {
	user, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	login := &domain.LoginSession{
		Token:     token,
		UserID:    user.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.CreateLoginSession(ctx, login); err != nil {
		return nil, fmt.Errorf("create login session: %w", err)
	}

	setSessionCookie(w, token, login.ExpiresAt, s.isDev)
	slog.Info("User logged in", "user_id", user.UserID, "username", user.Username)
	return user, nil
}

// Logout deletes the current login and clears the cookie. Behind
// Middleware the resolved login token is used; otherwise the cookie.
func (s *Service) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	setSessionCookie(w, "", time.Unix(0, 0), s.isDev)
	token := LoginTokenFromContext(r.Context())
	if token == "" {
		token = tokenFromRequest(r)
	}
	if token == "" {
		return nil
	}
	if err := s.repo.DeleteLoginSession(ctx, token); err != nil {
		return fmt.Errorf("delete login session: %w", err)
	}
	return nil
}

// Authenticate resolves the user behind the request's cookie.
func (s *Service) Authenticate(r *http.Request) (*domain.User, string, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return nil, "", ErrNotLoggedIn
	}

	login, err := s.repo.GetLoginSession(r.Context(), token)
	if err != nil {
		return nil, "", fmt.Errorf("get login session: %w", err)
	}
	if login == nil || login.Expired(s.now()) {
		return nil, "", ErrNotLoggedIn
	}

	user, err := s.repo.GetUser(r.Context(), login.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, "", ErrNotLoggedIn
	}
	return user, token, nil
}

// Middleware rejects requests without a valid login and injects the user
// into the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, token, err := s.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrNotLoggedIn) {
				slog.Error("Failed to resolve login", "error", err, "ip", IPFromRequest(r))
				http.Error(w, `{"error":"failed to resolve login"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"not logged in"}`))
			return
		}

		ctx := WithUser(r.Context(), user)
		ctx = context.WithValue(ctx, loginTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
