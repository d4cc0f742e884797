package research

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ashureev/askdanta/internal/backend"
	"github.com/ashureev/askdanta/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestDispatcher(t *testing.T, api *fakeAPI) (*Dispatcher, *session.Session) {
	t.Helper()
	auth := session.NewAuthenticator(api, nil)
	sess := session.New("thread-1", "u1", "long-lived")
	require.NoError(t, sess.Authenticate(context.Background(), auth))
	return NewDispatcher(api, newTestOrchestrator(api, 5), auth, nil, nil), sess
}

func TestHandleUsageAndEmpty(t *testing.T) {
	api := &fakeAPI{}
	d, sess := newTestDispatcher(t, api)
	em := &fakeEmitter{}

	require.NoError(t, d.Handle(context.Background(), sess, em, "   "))
	require.NoError(t, d.Handle(context.Background(), sess, em, "/result"))

	msgs := em.allMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, Usage, msgs[0])
}

func TestHandleListTasks(t *testing.T) {
	api := &fakeAPI{tasks: []backend.Task{{TaskID: "t1", AbstractState: backend.StateSummarizing}}}
	d, sess := newTestDispatcher(t, api)
	em := &fakeEmitter{}

	require.NoError(t, d.Handle(context.Background(), sess, em, "/TASKS"))
	msgs := em.allMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "📊 Writing the report")
}

func TestHandleShowResultCompleted(t *testing.T) {
	api := &fakeAPI{
		statuses: statuses(backend.StatusCompleted, backend.StateCompleted),
		result:   &backend.Result{FinalReport: "the report", SourceStr: "[1] a"},
	}
	d, sess := newTestDispatcher(t, api)
	em := &fakeEmitter{}

	require.NoError(t, d.Handle(context.Background(), sess, em, "/result abc123"))
	msgs := em.allMessages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "`abc123`")
	assert.Contains(t, msgs[0], "the report")
}

func TestHandleShowResultNotCompleted(t *testing.T) {
	api := &fakeAPI{statuses: statuses(backend.StatusRunning, backend.StateResearching)}
	d, sess := newTestDispatcher(t, api)
	em := &fakeEmitter{}

	require.NoError(t, d.Handle(context.Background(), sess, em, "/result abc123"))
	msgs := em.allMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "not completed")
	_, _, results := api.counts()
	assert.Zero(t, results)
}

func TestHandleShowResultFailedTask(t *testing.T) {
	api := &fakeAPI{statuses: []backend.TaskStatus{
		{Status: backend.StatusFailed, AbstractState: backend.StateFailed, Error: "search quota exceeded"},
	}}
	d, sess := newTestDispatcher(t, api)
	em := &fakeEmitter{}

	require.NoError(t, d.Handle(context.Background(), sess, em, "/result abc123"))
	msgs := em.allMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Task failed: search quota exceeded")
	_, _, results := api.counts()
	assert.Zero(t, results, "failed tasks have no report to fetch")
}

func TestHandleSubmitSendsTaskConfig(t *testing.T) {
	api := &fakeAPI{
		statuses: statuses(backend.StatusCompleted, backend.StateCompleted),
		result:   &backend.Result{FinalReport: "report"},
	}
	auth := session.NewAuthenticator(api, nil)
	sess := session.New("thread-1", "u1", "long-lived")
	require.NoError(t, sess.Authenticate(context.Background(), auth))
	d := NewDispatcher(api, newTestOrchestrator(api, 5), auth, map[string]any{"report_language": "en"}, nil)

	require.NoError(t, d.Handle(context.Background(), sess, &fakeEmitter{}, "what is web3?"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, map[string]any{"report_language": "en"}, api.lastConfig)
}

func TestHandleShowResultErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", &backend.StatusError{StatusCode: http.StatusNotFound}, "Task not found: `abc123`"},
		{"other status", &backend.StatusError{StatusCode: http.StatusBadGateway}, "HTTP 502"},
		{"transport", errors.New("dial tcp: refused"), "Something went wrong: dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{statusErr: tt.err}
			d, sess := newTestDispatcher(t, api)
			em := &fakeEmitter{}

			err := d.Handle(context.Background(), sess, em, "/result abc123")
			require.Error(t, err)
			msgs := em.allMessages()
			require.Len(t, msgs, 1)
			assert.Contains(t, msgs[0], tt.want)
		})
	}
}

func TestHandleWithoutCredentialsMakesNoCalls(t *testing.T) {
	api := &fakeAPI{}
	d := NewDispatcher(api, newTestOrchestrator(api, 5), session.NewAuthenticator(api, nil), nil, nil)
	sess := session.New("thread-1", "u1", "long-lived")
	em := &fakeEmitter{}

	err := d.Handle(context.Background(), sess, em, "hello")
	require.ErrorIs(t, err, session.ErrNotAuthenticated)

	submits, polls, _ := api.counts()
	assert.Zero(t, submits)
	assert.Zero(t, polls)
	require.Len(t, em.allMessages(), 1)
}

func TestHandleUnauthorizedBlocksFurtherCalls(t *testing.T) {
	api := &fakeAPI{submitErr: &backend.StatusError{StatusCode: http.StatusUnauthorized}}
	d, sess := newTestDispatcher(t, api)
	em := &fakeEmitter{}

	err := d.Handle(context.Background(), sess, em, "first question")
	require.True(t, backend.IsUnauthorized(err))
	assert.Contains(t, em.allMessages(), msgAuthExpired)

	_ = d.Handle(context.Background(), sess, em, "second question")
	submits, _, _ := api.counts()
	assert.Equal(t, 1, submits, "no research call after the backend rejected the token")
}

func TestHandleRejectsSecondQuestionWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := &fakeAPI{taskID: "busy-task", statuses: statuses(backend.StatusRunning, backend.StatePlanning)}
	auth := session.NewAuthenticator(api, nil)
	sess := session.New("thread-1", "u1", "long-lived")
	require.NoError(t, sess.Authenticate(context.Background(), auth))
	orch := NewOrchestrator(api, Config{PollInterval: time.Hour, MaxPolls: 5}, nil)
	d := NewDispatcher(api, orch, auth, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	em := &fakeEmitter{}
	done := make(chan error, 1)
	go func() { done <- d.Handle(ctx, sess, em, "long question") }()
	require.Eventually(t, func() bool { return sess.ActiveTask() == "busy-task" }, time.Second, time.Millisecond)

	other := &fakeEmitter{}
	err := d.Handle(context.Background(), sess, other, "another question")
	require.ErrorIs(t, err, session.ErrBusy)
	require.Len(t, other.allMessages(), 1)
	assert.Contains(t, other.allMessages()[0], "busy-task")

	// Commands still run.
	require.NoError(t, d.Handle(context.Background(), sess, other, "/tasks"))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	submits, _, _ := api.counts()
	assert.Equal(t, 1, submits)
}
