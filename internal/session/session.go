package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned by TryBegin while another orchestration holds the slot.
var ErrBusy = errors.New("a research task is already running in this session")

// Credentials are the backend credentials owned by one chat session.
type Credentials struct {
	LocalUserID   string
	BearerToken   string
	BackendUserID string
	IssuedAt      time.Time
	ExpiresAt     time.Time // zero when the token carries no expiry
}

// Expired reports whether the bearer token is past its expiry at now.
func (c *Credentials) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryLeeway).Before(c.ExpiresAt)
}

// Session is the per-chat-session context passed into every orchestration.
// Sessions share no mutable state with each other.
type Session struct {
	ID          string
	LocalUserID string
	accessToken string

	mu    sync.RWMutex
	creds *Credentials

	inflight   sync.Mutex
	taskMu     sync.Mutex
	activeTask string
}

// New creates an unauthenticated session for a local user.
func New(id, localUserID, accessToken string) *Session {
	return &Session{ID: id, LocalUserID: localUserID, accessToken: accessToken}
}

// Authenticate exchanges the user's access token and stores the result.
// On failure the session is left without credentials.
func (s *Session) Authenticate(ctx context.Context, auth *Authenticator) error {
	creds, err := auth.Authenticate(ctx, s.LocalUserID, s.accessToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.creds = nil
		return err
	}
	s.creds = creds
	return nil
}

// Refresh re-authenticates when the stored token has expired. A session
// without credentials stays unauthenticated until it is resumed.
func (s *Session) Refresh(ctx context.Context, auth *Authenticator, now time.Time) error {
	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()

	if creds == nil {
		return ErrNotAuthenticated
	}
	if !creds.Expired(now) {
		return nil
	}
	return s.Authenticate(ctx, auth)
}

// Credentials returns a copy of the current credentials.
func (s *Session) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// BearerToken returns the bearer token or ErrNotAuthenticated.
func (s *Session) BearerToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil || s.creds.BearerToken == "" {
		return "", ErrNotAuthenticated
	}
	return s.creds.BearerToken, nil
}

// Invalidate drops the credentials, e.g. after the backend rejects them.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
}

// TryBegin claims the single orchestration slot. The returned release
// function must be called when the orchestration ends.
func (s *Session) TryBegin() (release func(), err error) {
	if !s.inflight.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.SetActiveTask("")
			s.inflight.Unlock()
		})
	}, nil
}

// SetActiveTask records the task id of the running orchestration.
func (s *Session) SetActiveTask(taskID string) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.activeTask = taskID
}

// ActiveTask returns the task id of the running orchestration, if known.
func (s *Session) ActiveTask() string {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.activeTask
}
