package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/askdanta/internal/backend"
	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/identity"
	"github.com/ashureev/askdanta/internal/research"
	"github.com/ashureev/askdanta/internal/session"
	"github.com/ashureev/askdanta/internal/store"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu         sync.Mutex
	authErr    error
	submits    int
	authTokens []string
	running    bool // tasks never finish
}

func (f *fakeBackend) Authenticate(_ context.Context, accessToken string) (*backend.AuthResult, error) {
	f.mu.Lock()
	f.authTokens = append(f.authTokens, accessToken)
	f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &backend.AuthResult{BearerToken: "jwt", UserID: "backend-user"}, nil
}

func (f *fakeBackend) Submit(context.Context, string, backend.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return "task-1", nil
}

func (f *fakeBackend) Status(context.Context, string, string) (*backend.TaskStatus, error) {
	if f.running {
		return &backend.TaskStatus{Status: backend.StatusRunning, AbstractState: backend.StateResearching}, nil
	}
	return &backend.TaskStatus{Status: backend.StatusCompleted, AbstractState: backend.StateCompleted}, nil
}

func (f *fakeBackend) Result(context.Context, string, string) (*backend.Result, error) {
	return &backend.Result{FinalReport: "Web3 is a thing", SourceStr: "[1] example.com"}, nil
}

func (f *fakeBackend) ListTasks(context.Context, string) ([]backend.Task, error) {
	return nil, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	frames []Frame
}

func (w *recordingWriter) WriteFrame(_ context.Context, f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) snapshot() []Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Frame(nil), w.frames...)
}

func (w *recordingWriter) contains(substr string) bool {
	for _, f := range w.snapshot() {
		if f.Message != nil && strings.Contains(f.Message.Content, substr) {
			return true
		}
	}
	return false
}

// stepFailWriter drops the first step frame as a broken connection would.
type stepFailWriter struct {
	recordingWriter
	once sync.Once
}

func (w *stepFailWriter) WriteFrame(ctx context.Context, f Frame) error {
	if f.Type == FrameMessage && f.Message != nil && f.Message.IsStep() {
		failed := false
		w.once.Do(func() { failed = true })
		if failed {
			return errors.New("connection reset")
		}
	}
	return w.recordingWriter.WriteFrame(ctx, f)
}

type frameRecorder interface {
	FrameWriter
	contains(substr string) bool
}

type harness struct {
	repo    *store.SQLiteStore
	api     *fakeBackend
	handler *Handler
	user    *domain.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Now()
	user := &domain.User{
		UserID: "u1", Username: "user1", DisplayName: "User One", Role: domain.RoleUser,
		PasswordHash: "x", AccessToken: "long-lived", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.UpsertUser(context.Background(), user))

	api := &fakeBackend{}
	auth := session.NewAuthenticator(api, nil)
	orch := research.NewOrchestrator(api, research.Config{PollInterval: time.Millisecond, MaxPolls: 5}, nil)
	disp := research.NewDispatcher(api, orch, auth, nil, nil)
	h := NewHandler(repo, auth, disp, NewConnManager(), NewRateLimiter(0, 0), "default-token", "*", true)
	return &harness{repo: repo, api: api, handler: h, user: user}
}

func (hs *harness) newThread(t *testing.T) *domain.Thread {
	t.Helper()
	thread, resumed, err := hs.handler.openThread(context.Background(), hs.user, "")
	require.NoError(t, err)
	require.False(t, resumed)
	return thread
}

// run serves a chat fed by msgs and returns once serve has exited.
func (hs *harness) run(t *testing.T, thread *domain.Thread, resumed bool, out frameRecorder, msgs ...string) {
	t.Helper()
	in := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hs.handler.serve(context.Background(), hs.user, thread, resumed, out, func(ctx context.Context) ([]byte, error) {
			select {
			case data, ok := <-in:
				if !ok {
					return nil, io.EOF
				}
				return data, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	}()

	for _, m := range msgs {
		data, err := json.Marshal(Frame{Type: FrameMessage, Content: m})
		require.NoError(t, err)
		in <- data
	}
	if len(msgs) > 0 {
		require.Eventually(t, func() bool { return out.contains("Web3 is a thing") || out.contains("No backend credentials") },
			2*time.Second, 5*time.Millisecond)
	}
	close(in)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after the client left")
	}
}

func TestChatStartResearchesQuestion(t *testing.T) {
	hs := newHarness(t)
	thread := hs.newThread(t)
	out := &recordingWriter{}

	hs.run(t, thread, false, out, "what is web3?")

	frames := out.snapshot()
	require.NotEmpty(t, frames)
	assert.Equal(t, FrameThread, frames[0].Type)
	assert.Equal(t, thread.ThreadID, frames[0].Thread.ThreadID)
	assert.Contains(t, frames[1].Message.Content, "Welcome to Ask Danta, User One")
	assert.Equal(t, FrameUpdate, frames[2].Type, "welcome is updated in place after authentication")
	assert.Equal(t, frames[1].Message.MessageID, frames[2].Message.MessageID)
	assert.True(t, out.contains("[1] example.com"))

	msgs, err := hs.repo.ListMessages(context.Background(), thread.ThreadID)
	require.NoError(t, err)
	var steps, userMsgs int
	for _, m := range msgs {
		if m.IsStep() {
			steps++
		}
		if m.Author == "User One" {
			userMsgs++
		}
	}
	assert.Equal(t, 3, steps)
	assert.Equal(t, 1, userMsgs)

	threads, err := hs.repo.ListThreads(context.Background(), hs.user.UserID, 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "what is web3?", threads[0].Name)
}

func TestChatAuthFailureBlocksResearch(t *testing.T) {
	hs := newHarness(t)
	hs.api.authErr = &backend.StatusError{StatusCode: http.StatusUnauthorized}
	thread := hs.newThread(t)
	out := &recordingWriter{}

	hs.run(t, thread, false, out, "hello")

	assert.True(t, out.contains("Backend authentication failed"))
	assert.True(t, out.contains("No backend credentials"))
	for _, f := range out.snapshot() {
		assert.NotEqual(t, FrameUpdate, f.Type)
	}
	assert.Zero(t, hs.api.submits)
}

func TestChatResumeWelcomesBack(t *testing.T) {
	hs := newHarness(t)
	thread := hs.newThread(t)

	resumed, ok, err := hs.handler.openThread(context.Background(), hs.user, thread.ThreadID)
	require.NoError(t, err)
	require.True(t, ok)

	out := &recordingWriter{}
	hs.run(t, resumed, true, out)
	assert.True(t, out.contains("Welcome back, User One"))
}

func TestServeHTTPRejectsForeignThread(t *testing.T) {
	hs := newHarness(t)
	thread := hs.newThread(t)

	stranger := &domain.User{UserID: "u2", Username: "other"}
	req := httptest.NewRequest(http.MethodGet, "/ws/chat?thread_id="+thread.ThreadID, nil)
	req = req.WithContext(identity.WithUser(req.Context(), stranger))
	rec := httptest.NewRecorder()
	hs.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	rec = httptest.NewRecorder()
	hs.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"), "burst exhausted")
	assert.True(t, rl.Allow("u2"), "limits are per user")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("u1"), "one token per second refills")

	now = now.Add(limiterIdleTTL)
	rl.Allow("u3")
	rl.mu.Lock()
	_, kept := rl.limiters["u1"]
	rl.mu.Unlock()
	assert.False(t, kept, "idle limiters are evicted")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for range 100 {
		require.True(t, rl.Allow("u1"))
	}
}

func TestChatUsesDefaultTokenForUsersWithoutOne(t *testing.T) {
	hs := newHarness(t)
	hs.user.AccessToken = ""
	thread := hs.newThread(t)

	hs.run(t, thread, false, &recordingWriter{})

	hs.api.mu.Lock()
	defer hs.api.mu.Unlock()
	assert.Equal(t, []string{"default-token"}, hs.api.authTokens)
}

func TestChatPrefersUsersOwnToken(t *testing.T) {
	hs := newHarness(t)
	thread := hs.newThread(t)

	hs.run(t, thread, false, &recordingWriter{})

	hs.api.mu.Lock()
	defer hs.api.mu.Unlock()
	assert.Equal(t, []string{"long-lived"}, hs.api.authTokens)
}

func TestChatPersistsStepAfterFailedFrame(t *testing.T) {
	hs := newHarness(t)
	thread := hs.newThread(t)
	out := &stepFailWriter{}

	hs.run(t, thread, false, out, "what is web3?")

	msgs, err := hs.repo.ListMessages(context.Background(), thread.ThreadID)
	require.NoError(t, err)
	var create *domain.Message
	for _, m := range msgs {
		if m.IsStep() && m.Name == research.StepCreate {
			create = m
		}
	}
	require.NotNil(t, create)
	assert.Contains(t, create.Content, "`task-1`")
}

func TestShutdownStopsRunningResearch(t *testing.T) {
	hs := newHarness(t)
	hs.api.running = true
	auth := session.NewAuthenticator(hs.api, nil)
	orch := research.NewOrchestrator(hs.api, research.Config{PollInterval: time.Hour, MaxPolls: 5}, nil)
	h := NewHandler(hs.repo, auth, research.NewDispatcher(hs.api, orch, auth, nil, nil),
		NewConnManager(), NewRateLimiter(0, 0), "", "*", true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), hs.user)))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	data, err := json.Marshal(Frame{Type: FrameMessage, Content: "what is web3?"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	var threadID string
	for {
		_, raw, err := conn.Read(ctx)
		require.NoError(t, err)
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == FrameThread {
			threadID = f.Thread.ThreadID
		}
		if f.Message != nil && f.Message.Name == research.StepRun {
			break
		}
	}
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	require.NoError(t, h.Shutdown(ctx))

	msgs, err := hs.repo.ListMessages(context.Background(), threadID)
	require.NoError(t, err)
	var run *domain.Message
	for _, m := range msgs {
		if m.IsStep() && m.Name == research.StepRun {
			run = m
		}
	}
	require.NotNil(t, run)
	assert.Contains(t, run.Content, "/result task-1")
}
