// Package chat serves the websocket chat channel and renders research
// output into persisted thread messages.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/research"
	"github.com/ashureev/askdanta/internal/store"
	"github.com/google/uuid"
)

// Frame types exchanged over the chat websocket.
const (
	FrameMessage = "message"
	FrameUpdate  = "update"
	FrameThread  = "thread"
	FrameError   = "error"
	FramePing    = "ping"
	FramePong    = "pong"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Thread  *domain.Thread  `json:"thread,omitempty"`
}

// FrameWriter delivers frames to a connected client.
type FrameWriter interface {
	WriteFrame(ctx context.Context, f Frame) error
}

const persistTimeout = 5 * time.Second

// ThreadEmitter persists output to a thread and pushes it to the client.
// Persistence outlives the request context so a closed chat still keeps
// its last step state.
type ThreadEmitter struct {
	repo     store.Repository
	threadID string
	out      FrameWriter
	logger   *slog.Logger
	now      func() time.Time
}

var _ research.Emitter = (*ThreadEmitter)(nil)

// NewThreadEmitter creates an emitter for threadID.
func NewThreadEmitter(repo store.Repository, threadID string, out FrameWriter, logger *slog.Logger) *ThreadEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadEmitter{repo: repo, threadID: threadID, out: out, logger: logger, now: time.Now}
}

// Post stores a new message and sends it to the client.
func (e *ThreadEmitter) Post(ctx context.Context, author, kind, name, content string) (*domain.Message, error) {
	now := e.now()
	msg := &domain.Message{
		MessageID: uuid.NewString(),
		ThreadID:  e.threadID,
		Author:    author,
		Kind:      kind,
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	e.persist(ctx, "append", func(pctx context.Context) error {
		return e.repo.AppendMessage(pctx, msg)
	})

	snapshot := *msg
	if err := e.out.WriteFrame(ctx, Frame{Type: FrameMessage, Message: &snapshot}); err != nil {
		return msg, fmt.Errorf("write message frame: %w", err)
	}
	return msg, nil
}

// Edit replaces the content of msg in place.
func (e *ThreadEmitter) Edit(ctx context.Context, msg *domain.Message, content string) error {
	msg.Content = content
	msg.UpdatedAt = e.now()

	e.persist(ctx, "update", func(pctx context.Context) error {
		return e.repo.UpdateMessage(pctx, msg.MessageID, content)
	})

	snapshot := *msg
	if err := e.out.WriteFrame(ctx, Frame{Type: FrameUpdate, Message: &snapshot}); err != nil {
		return fmt.Errorf("write update frame: %w", err)
	}
	return nil
}

// Send implements research.Emitter.
func (e *ThreadEmitter) Send(ctx context.Context, content string) error {
	_, err := e.Post(ctx, research.Author, domain.KindMessage, "", content)
	return err
}

// StartStep implements research.Emitter.
func (e *ThreadEmitter) StartStep(ctx context.Context, name, output string) (research.Step, error) {
	msg, err := e.Post(ctx, research.Author, domain.KindStep, name, output)
	if msg == nil {
		return nil, err
	}
	// A failed frame write still yields a usable step; later updates persist.
	return &threadStep{e: e, msg: msg}, err
}

// Error sends a transient error frame that is not persisted.
func (e *ThreadEmitter) Error(ctx context.Context, content string) error {
	return e.out.WriteFrame(ctx, Frame{Type: FrameError, Content: content})
}

func (e *ThreadEmitter) persist(ctx context.Context, op string, fn func(context.Context) error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		e.logger.Warn("Failed to persist chat message", "op", op, "thread_id", e.threadID, "error", err)
	}
}

type threadStep struct {
	mu  sync.Mutex
	e   *ThreadEmitter
	msg *domain.Message
}

func (s *threadStep) Update(ctx context.Context, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e.Edit(ctx, s.msg, output)
}
