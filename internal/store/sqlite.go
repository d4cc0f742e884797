package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/shared"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by updates that match no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	messageMu sync.Mutex // serializes message writes; steps update rapidly while polling
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for concurrent readers while chat steps are being written.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS login_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_login_sessions_expires ON login_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(thread_id) ON DELETE CASCADE,
		author TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
	`

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Reset drops and recreates every table.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()

	drop := `
	DROP TABLE IF EXISTS messages;
	DROP TABLE IF EXISTS threads;
	DROP TABLE IF EXISTS login_sessions;
	DROP TABLE IF EXISTS users;
	`
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return s.initSchema(ctx)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const userColumns = `user_id, username, display_name, role, password_hash, access_token, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64
	err := row.Scan(
		&user.UserID, &user.Username, &user.DisplayName, &user.Role,
		&user.PasswordHash, &user.AccessToken, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by login name.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		display_name = excluded.display_name,
		role = excluded.role,
		password_hash = excluded.password_hash,
		access_token = excluded.access_token,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.DisplayName, user.Role,
		user.PasswordHash, user.AccessToken,
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// CreateLoginSession stores a new browser login.
func (s *SQLiteStore) CreateLoginSession(ctx context.Context, session *domain.LoginSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.Token, session.UserID, session.CreatedAt.Unix(), session.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert login session: %w", err)
	}
	return nil
}

// GetLoginSession retrieves a login by cookie token.
func (s *SQLiteStore) GetLoginSession(ctx context.Context, token string) (*domain.LoginSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM login_sessions WHERE token = ?`, token)

	var session domain.LoginSession
	var createdAt, expiresAt int64
	err := row.Scan(&session.Token, &session.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan login session: %w", err)
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}

// DeleteLoginSession removes a login.
func (s *SQLiteStore) DeleteLoginSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete login session: %w", err)
	}
	return nil
}

// CleanupExpiredLoginSessions removes logins that expired before now.
func (s *SQLiteStore) CleanupExpiredLoginSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired login sessions: %w", err)
	}
	return result.RowsAffected()
}

// CreateThread stores a new chat thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *domain.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		thread.ThreadID, thread.UserID, thread.Name, thread.CreatedAt.Unix(), thread.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread by ID.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, user_id, name, created_at, updated_at FROM threads WHERE thread_id = ?`, threadID)

	var thread domain.Thread
	var createdAt, updatedAt int64
	err := row.Scan(&thread.ThreadID, &thread.UserID, &thread.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	thread.CreatedAt = time.Unix(createdAt, 0)
	thread.UpdatedAt = time.Unix(updatedAt, 0)
	return &thread, nil
}

// ListThreads returns a user's threads, most recently updated first.
func (s *SQLiteStore) ListThreads(ctx context.Context, userID string, limit int) ([]*domain.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, user_id, name, created_at, updated_at
		FROM threads WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close thread rows", "error", closeErr)
		}
	}()

	var threads []*domain.Thread
	for rows.Next() {
		var thread domain.Thread
		var createdAt, updatedAt int64
		if err := rows.Scan(&thread.ThreadID, &thread.UserID, &thread.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		thread.CreatedAt = time.Unix(createdAt, 0)
		thread.UpdatedAt = time.Unix(updatedAt, 0)
		threads = append(threads, &thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// NameThread sets the thread name if it has none yet and bumps updated_at.
func (s *SQLiteStore) NameThread(ctx context.Context, threadID, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads SET
			name = CASE WHEN name = '' THEN ? ELSE name END,
			updated_at = ?
		WHERE thread_id = ?`, name, time.Now().Unix(), threadID)
	if err != nil {
		return fmt.Errorf("name thread: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return nil
}

// AppendMessage stores a new message or step in a thread.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return s.withBusyRetry(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (message_id, thread_id, author, kind, name, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.MessageID, msg.ThreadID, msg.Author, msg.Kind, msg.Name, msg.Content,
			msg.CreatedAt.Unix(), msg.UpdatedAt.Unix(),
		)
		return err
	})
}

// UpdateMessage replaces the content of an existing message or step.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, messageID, content string) error {
	var rows int64
	err := s.withBusyRetry(ctx, "update message", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE messages SET content = ?, updated_at = ? WHERE message_id = ?`,
			content, time.Now().Unix(), messageID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// ListMessages returns a thread's messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, thread_id, author, kind, name, content, created_at, updated_at
		FROM messages WHERE thread_id = ?
		ORDER BY created_at, rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&msg.MessageID, &msg.ThreadID, &msg.Author, &msg.Kind, &msg.Name, &msg.Content,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		msg.UpdatedAt = time.Unix(updatedAt, 0)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// withBusyRetry runs a message write, retrying with exponential backoff on
// SQLITE_BUSY / "database is locked".
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()

	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
