// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/askdanta/internal/domain"
)

// Repository defines the interface for persisting users, logins, threads and messages.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by login name. Returns nil, nil when absent.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// CreateLoginSession stores a new browser login.
	CreateLoginSession(ctx context.Context, session *domain.LoginSession) error

	// GetLoginSession retrieves a login by cookie token. Returns nil, nil when absent.
	GetLoginSession(ctx context.Context, token string) (*domain.LoginSession, error)

	// DeleteLoginSession removes a login (logout).
	DeleteLoginSession(ctx context.Context, token string) error

	// CleanupExpiredLoginSessions removes logins that expired before now.
	CleanupExpiredLoginSessions(ctx context.Context, now time.Time) (int64, error)

	// CreateThread stores a new chat thread.
	CreateThread(ctx context.Context, thread *domain.Thread) error

	// GetThread retrieves a thread by ID. Returns nil, nil when absent.
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// ListThreads returns a user's threads, most recently updated first.
	ListThreads(ctx context.Context, userID string, limit int) ([]*domain.Thread, error)

	// NameThread sets the thread name if it has none yet and bumps updated_at.
	NameThread(ctx context.Context, threadID, name string) error

	// AppendMessage stores a new message or step in a thread.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// UpdateMessage replaces the content of an existing message or step.
	UpdateMessage(ctx context.Context, messageID, content string) error

	// ListMessages returns a thread's messages in creation order.
	ListMessages(ctx context.Context, threadID string) ([]*domain.Message, error)

	// Reset drops and recreates every table.
	Reset(ctx context.Context) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
