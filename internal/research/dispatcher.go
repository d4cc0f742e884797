package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/askdanta/internal/backend"
	"github.com/ashureev/askdanta/internal/session"
)

// Dispatcher routes chat messages of one session to commands or to a new
// orchestration.
type Dispatcher struct {
	api        backend.API
	orch       *Orchestrator
	auth       *session.Authenticator
	taskConfig map[string]any
	logger     *slog.Logger
	now        func() time.Time
}

// NewDispatcher creates a dispatcher. auth may be nil, in which case
// expired tokens are not refreshed. A non-empty taskConfig is sent with
// every submitted question.
func NewDispatcher(api backend.API, orch *Orchestrator, auth *session.Authenticator, taskConfig map[string]any, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{api: api, orch: orch, auth: auth, taskConfig: taskConfig, logger: logger, now: time.Now}
}

// Handle runs the action for raw. Every failure is rendered to em; the
// returned error is for logging only.
func (d *Dispatcher) Handle(ctx context.Context, sess *session.Session, em Emitter, raw string) error {
	action := Route(raw)
	switch action.Kind {
	case ActionEmpty:
		return nil
	case ActionUsage:
		return em.Send(ctx, Usage)
	}

	bearer, err := d.bearer(ctx, sess)
	if err != nil {
		msg := msgNotAuthenticated
		if errors.Is(err, session.ErrAuthenticationFailed) {
			msg = "❌ Backend authentication failed. Check your access token or contact an administrator."
		}
		d.send(ctx, em, msg)
		return err
	}

	switch action.Kind {
	case ActionListTasks:
		return d.listTasks(ctx, sess, em, bearer)
	case ActionShowResult:
		return d.showResult(ctx, sess, em, bearer, action.Arg)
	default:
		return d.submit(ctx, sess, em, bearer, action.Arg)
	}
}

// bearer refreshes an expired token before handing it out.
func (d *Dispatcher) bearer(ctx context.Context, sess *session.Session) (string, error) {
	if d.auth != nil {
		if err := sess.Refresh(ctx, d.auth, d.now()); err != nil {
			return "", err
		}
	}
	return sess.BearerToken()
}

func (d *Dispatcher) listTasks(ctx context.Context, sess *session.Session, em Emitter, bearer string) error {
	tasks, err := d.api.ListTasks(ctx, bearer)
	if err != nil {
		d.rejectIfUnauthorized(ctx, sess, em, err)
		d.send(ctx, em, fmt.Sprintf("❌ Failed to list tasks: %v", err))
		return fmt.Errorf("list tasks: %w", err)
	}
	d.send(ctx, em, RenderTaskList(tasks))
	return nil
}

func (d *Dispatcher) showResult(ctx context.Context, sess *session.Session, em Emitter, bearer, taskID string) error {
	err := d.fetchResult(ctx, em, bearer, taskID)
	if err == nil {
		return nil
	}

	d.rejectIfUnauthorized(ctx, sess, em, err)
	switch code := backend.StatusCodeOf(err); {
	case backend.IsNotFound(err):
		d.send(ctx, em, fmt.Sprintf("❌ Task not found: `%s`", taskID))
	case code != 0:
		d.send(ctx, em, fmt.Sprintf("❌ Failed to fetch the task result: HTTP %d", code))
	default:
		d.send(ctx, em, fmt.Sprintf("❌ Something went wrong: %v", err))
	}
	return fmt.Errorf("show result %s: %w", taskID, err)
}

// fetchResult checks the status before fetching so an unfinished task is
// reported as such rather than as a fetch failure.
func (d *Dispatcher) fetchResult(ctx context.Context, em Emitter, bearer, taskID string) error {
	status, err := d.api.Status(ctx, bearer, taskID)
	if err != nil {
		return err
	}
	if !status.Terminal() {
		d.send(ctx, em, RenderNotCompleted(taskID, status.AbstractState))
		return nil
	}
	if status.Status == backend.StatusFailed {
		d.send(ctx, em, renderTaskFailed(status.Error))
		return nil
	}

	res, err := d.api.Result(ctx, bearer, taskID)
	if err != nil {
		return err
	}
	deliver(ctx, d.logger, em, taskID, res)
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, sess *session.Session, em Emitter, bearer, question string) error {
	release, err := sess.TryBegin()
	if err != nil {
		d.send(ctx, em, renderBusy(sess.ActiveTask()))
		return err
	}
	defer release()

	opts := []RunOption{OnSubmitted(sess.SetActiveTask)}
	if len(d.taskConfig) > 0 {
		opts = append(opts, WithTaskConfig(d.taskConfig))
	}
	out := d.orch.Run(ctx, bearer, question, em, opts...)
	if out.Err != nil && backend.IsUnauthorized(out.Err) {
		d.rejectIfUnauthorized(ctx, sess, em, out.Err)
	}
	return out.Err
}

// rejectIfUnauthorized drops the session's credentials after a 401/403 so
// no further research calls are made until the chat is resumed.
func (d *Dispatcher) rejectIfUnauthorized(ctx context.Context, sess *session.Session, em Emitter, err error) {
	if !backend.IsUnauthorized(err) {
		return
	}
	sess.Invalidate()
	d.logger.Warn("Backend rejected session credentials", "user_id", sess.LocalUserID, "session_id", sess.ID)
	d.send(ctx, em, msgAuthExpired)
}

func (d *Dispatcher) send(ctx context.Context, em Emitter, content string) {
	if err := em.Send(ctx, content); err != nil {
		d.logger.Warn("Failed to send message", "error", err)
	}
}
