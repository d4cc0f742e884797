// Package session holds per-chat-session backend credentials and the
// authenticator that obtains them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/askdanta/internal/backend"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingAccessToken is returned without a network call when the
	// user has no access token configured.
	ErrMissingAccessToken = errors.New("missing access token")
	// ErrAuthenticationFailed wraps every failed token exchange.
	ErrAuthenticationFailed = errors.New("backend authentication failed")
	// ErrNotAuthenticated means the session holds no bearer token.
	ErrNotAuthenticated = errors.New("session is not authenticated")
)

// expiryLeeway treats tokens about to expire as already expired.
const expiryLeeway = 30 * time.Second

// TokenExchanger swaps a long-lived access token for a bearer token.
type TokenExchanger interface {
	Authenticate(ctx context.Context, accessToken string) (*backend.AuthResult, error)
}

// Authenticator exchanges a user's access token for backend credentials.
type Authenticator struct {
	exchanger TokenExchanger
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthenticator creates an authenticator backed by exchanger.
func NewAuthenticator(exchanger TokenExchanger, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{exchanger: exchanger, logger: logger, now: time.Now}
}

// Authenticate returns fresh credentials for localUserID.
func (a *Authenticator) Authenticate(ctx context.Context, localUserID, accessToken string) (*Credentials, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrMissingAccessToken)
	}

	res, err := a.exchanger.Authenticate(ctx, accessToken)
	if err != nil {
		a.logger.Warn("Backend authentication failed", "user_id", localUserID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if res.BearerToken == "" {
		return nil, fmt.Errorf("%w: empty bearer token", ErrAuthenticationFailed)
	}

	creds := &Credentials{
		LocalUserID:   localUserID,
		BearerToken:   res.BearerToken,
		BackendUserID: res.UserID,
		IssuedAt:      a.now(),
		ExpiresAt:     tokenExpiry(res.BearerToken),
	}
	a.logger.Info("Backend authentication succeeded",
		"user_id", localUserID,
		"backend_user_id", res.UserID,
		"expires_at", creds.ExpiresAt,
	)
	return creds, nil
}

// tokenExpiry reads the exp claim of a JWT bearer token without verifying
// it; the backend is the verifier. Opaque tokens have no known expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
