package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/identity"
	"github.com/ashureev/askdanta/internal/research"
	"github.com/ashureev/askdanta/internal/session"
	"github.com/ashureev/askdanta/internal/shared"
	"github.com/ashureev/askdanta/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 64 << 10
	threadNameRunes = 80
)

const msgWelcomeIntro = `🐈‍⬛ Hi again! What shall we dig into today?
Campus sports events this semester?
The best dessert shops near campus?
The core technologies and use cases of Web3?
Or just ask anything and I will research it for you.

Commands: ` + "`/tasks`" + ` lists your research tasks, ` + "`/result <task_id>`" + ` shows a finished report.`

// Handler upgrades chat requests to websockets and runs one session per
// connection.
type Handler struct {
	repo          store.Repository
	auth          *session.Authenticator
	dispatcher    *research.Dispatcher
	conns         *ConnManager
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	// defaultAccessToken serves users without their own token.
	defaultAccessToken string

	chats sync.WaitGroup
}

// NewHandler creates a chat websocket handler.
func NewHandler(repo store.Repository, auth *session.Authenticator, dispatcher *research.Dispatcher, conns *ConnManager, limiter *RateLimiter, defaultAccessToken, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		repo:               repo,
		auth:               auth,
		dispatcher:         dispatcher,
		conns:              conns,
		limiter:            limiter,
		allowedOrigin:      allowedOrigin,
		isDev:              isDev,
		defaultAccessToken: defaultAccessToken,
	}
}

// wsFrameWriter adapts websocket.Conn to FrameWriter.
type wsFrameWriter struct {
	conn *websocket.Conn
}

func (w *wsFrameWriter) WriteFrame(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for websocket upgrade. Without a
// thread_id a new thread starts; with one the user's thread resumes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "not logged in", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	thread, resumed, err := h.openThread(r.Context(), user, r.URL.Query().Get("thread_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "thread not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to open thread", "error", err, "user_id", user.UserID)
		http.Error(w, "failed to open thread", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", user.UserID)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	h.chats.Add(1)
	defer h.chats.Done()
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", user.UserID)
		}
	}()

	h.conns.Register(user.UserID, thread.ThreadID, ws)
	defer h.conns.Unregister(user.UserID, thread.ThreadID, ws)

	h.serve(r.Context(), user, thread, resumed, &wsFrameWriter{conn: ws}, func(ctx context.Context) ([]byte, error) {
		_, data, err := ws.Read(ctx)
		return data, err
	})
}

// Shutdown closes every open chat and waits until their research has
// stopped, or until ctx ends. The HTTP server must be shut down first so
// no new chats start.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.conns.CloseAll()

	done := make(chan struct{})
	go func() {
		h.chats.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for chats: %w", ctx.Err())
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// openThread returns the requested thread when the user owns it, or a new
// thread when threadID is empty.
func (h *Handler) openThread(ctx context.Context, user *domain.User, threadID string) (*domain.Thread, bool, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID != "" {
		thread, err := h.repo.GetThread(ctx, threadID)
		if err != nil {
			return nil, false, err
		}
		if thread == nil || thread.UserID != user.UserID {
			return nil, false, store.ErrNotFound
		}
		return thread, true, nil
	}

	now := time.Now()
	thread := &domain.Thread{
		ThreadID:  uuid.NewString(),
		UserID:    user.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateThread(ctx, thread); err != nil {
		return nil, false, err
	}
	return thread, false, nil
}

type readFunc func(ctx context.Context) ([]byte, error)

// serve runs the chat lifecycle: greet and authenticate, then read frames
// until the client goes away. Research runs in its own goroutine so
// commands keep working while a task is polled.
func (h *Handler) serve(ctx context.Context, user *domain.User, thread *domain.Thread, resumed bool, out FrameWriter, read readFunc) {
	logger := slog.With("user_id", user.UserID, "thread_id", thread.ThreadID)
	em := NewThreadEmitter(h.repo, thread.ThreadID, out, logger)
	sess := session.New(thread.ThreadID, user.UserID, user.BackendToken(h.defaultAccessToken))

	snapshot := *thread
	if err := out.WriteFrame(ctx, Frame{Type: FrameThread, Thread: &snapshot}); err != nil {
		logger.Debug("Failed to send thread frame", "error", err)
		return
	}

	if resumed {
		h.resume(ctx, user, sess, em)
	} else {
		h.start(ctx, user, sess, em)
	}

	// Cancel in-flight research before waiting for it.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		data, err := read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Debug("Chat closed by client")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = em.Error(ctx, "malformed frame")
			continue
		}

		switch frame.Type {
		case FramePing:
			if err := out.WriteFrame(ctx, Frame{Type: FramePong}); err != nil {
				logger.Debug("Failed to send pong", "error", err)
			}
		case FrameMessage:
			content := strings.TrimSpace(frame.Content)
			if content == "" {
				continue
			}
			if !h.limiter.Allow(user.UserID) {
				_ = em.Error(ctx, "You are sending messages too quickly. Please wait a moment.")
				continue
			}
			if _, err := em.Post(ctx, user.Name(), domain.KindMessage, "", content); err != nil {
				logger.Debug("Failed to echo user message", "error", err)
			}
			if research.Route(content).Kind == research.ActionSubmitQuestion {
				h.nameThread(ctx, logger, thread.ThreadID, content)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := h.dispatcher.Handle(ctx, sess, em, content); err != nil {
					logger.Info("Chat action ended with error", "error", err)
				}
			}()
		default:
			_ = em.Error(ctx, fmt.Sprintf("unsupported frame type %q", frame.Type))
		}
	}
}

// start greets a new chat and updates the greeting once the backend
// accepted the user's access token.
func (h *Handler) start(ctx context.Context, user *domain.User, sess *session.Session, em *ThreadEmitter) {
	welcome, err := em.Post(ctx, research.Author, domain.KindMessage, "",
		fmt.Sprintf("🎉 Welcome to Ask Danta, %s!\n\nAuthenticating with the backend...", user.Name()))
	if err != nil {
		slog.Debug("Failed to send welcome message", "error", err, "user_id", user.UserID)
	}

	if err := sess.Authenticate(ctx, h.auth); err != nil {
		_ = em.Send(ctx, "❌ Backend authentication failed. Check the configuration or contact an administrator.")
		return
	}
	if welcome != nil {
		_ = em.Edit(ctx, welcome, msgWelcomeIntro)
	}
}

// resume re-authenticates a returning chat.
func (h *Handler) resume(ctx context.Context, user *domain.User, sess *session.Session, em *ThreadEmitter) {
	if err := sess.Authenticate(ctx, h.auth); err != nil {
		_ = em.Send(ctx, "❌ Backend authentication failed. Check the configuration or contact an administrator.")
		return
	}
	_ = em.Send(ctx, fmt.Sprintf("👋 Welcome back, %s! Pick up where you left off.", user.Name()))
}

func (h *Handler) nameThread(ctx context.Context, logger *slog.Logger, threadID, question string) {
	if err := h.repo.NameThread(ctx, threadID, shared.Truncate(question, threadNameRunes)); err != nil {
		logger.Warn("Failed to name thread", "error", err)
	}
}
