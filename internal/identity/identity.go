// Package identity provides local logins and per-request user identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/askdanta/internal/domain"
)

const (
	SessionCookieName = "askdanta_session"
	// DefaultLoginTTL is used when no TTL is configured.
	DefaultLoginTTL = 7 * 24 * time.Hour
)

type contextKey int

const (
	userKey contextKey = iota
	loginTokenKey
)

var tokenPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the logged-in user, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if u, ok := ctx.Value(userKey).(*domain.User); ok {
		return u
	}
	return nil
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// LoginTokenFromContext returns the cookie token of the current login.
func LoginTokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(loginTokenKey).(string); ok {
		return v
	}
	return ""
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate login token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

func tokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || !isValidToken(c.Value) {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time, isDev bool) {
	maxAge := int(time.Until(expires).Seconds())
	if token == "" {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
