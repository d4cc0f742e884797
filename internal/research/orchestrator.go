package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/askdanta/internal/backend"
)

// RunState is the terminal state of one orchestration.
type RunState int

const (
	RunDelivered RunState = iota + 1
	RunFailed
	RunTimedOut
)

func (s RunState) String() string {
	switch s {
	case RunDelivered:
		return "delivered"
	case RunFailed:
		return "failed"
	case RunTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ErrPollLimit is the Outcome error of a run that exhausted its polls.
// The task may still finish on the backend.
var ErrPollLimit = errors.New("poll limit reached")

// TaskFailedError is the Outcome error when the backend marks a task failed.
type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

// Outcome summarizes a finished orchestration.
type Outcome struct {
	State  RunState
	TaskID string // empty when submission failed
	Polls  int
	Err    error
}

// Config bounds the polling loop.
type Config struct {
	PollInterval time.Duration
	MaxPolls     int
}

// DefaultConfig polls every 5s, at most 120 times.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second, MaxPolls: 120}
}

// RunOption customizes a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	onSubmitted func(taskID string)
	request     backend.SubmitRequest
}

// OnSubmitted registers fn to be called with the task id once the backend
// accepts the question.
func OnSubmitted(fn func(taskID string)) RunOption {
	return func(o *runOptions) { o.onSubmitted = fn }
}

// WithTaskConfig attaches a backend task configuration to the submission.
func WithTaskConfig(cfg map[string]any) RunOption {
	return func(o *runOptions) { o.request.Config = cfg }
}

// Orchestrator drives one question through submit, poll and fetch.
type Orchestrator struct {
	api    backend.API
	cfg    Config
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator. Zero config fields take defaults.
func NewOrchestrator(api backend.API, cfg Config, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{api: api, cfg: cfg, logger: logger}
}

// Run researches question with the given bearer token and reports every
// step through em. Failures are rendered to the chat and returned in the
// Outcome; Run never retries.
func (o *Orchestrator) Run(ctx context.Context, bearer, question string, em Emitter, opts ...RunOption) Outcome {
	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	ro.request.Question = question

	taskID, err := o.submit(ctx, bearer, ro.request, em)
	if err != nil {
		return Outcome{State: RunFailed, Err: err}
	}
	if ro.onSubmitted != nil {
		ro.onSubmitted(taskID)
	}

	out := o.poll(ctx, bearer, taskID, em)
	if out.State != 0 {
		o.logger.Info("Research task finished without report",
			"task_id", taskID, "state", out.State.String(), "polls", out.Polls, "error", out.Err)
		return out
	}

	if err := o.fetch(ctx, bearer, taskID, em); err != nil {
		return Outcome{State: RunFailed, TaskID: taskID, Polls: out.Polls, Err: err}
	}
	o.logger.Info("Research report delivered", "task_id", taskID, "polls", out.Polls)
	return Outcome{State: RunDelivered, TaskID: taskID, Polls: out.Polls}
}

func (o *Orchestrator) submit(ctx context.Context, bearer string, req backend.SubmitRequest, em Emitter) (string, error) {
	step := o.startStep(ctx, em, StepCreate,
		fmt.Sprintf("Creating a research task for your question...\n\n**Question:** %s", req.Question))

	taskID, err := o.api.Submit(ctx, bearer, req)
	if err != nil {
		o.logger.Warn("Failed to create research task", "error", err)
		o.update(ctx, step, fmt.Sprintf("❌ Failed to create the research task: %v", err))
		return "", fmt.Errorf("submit: %w", err)
	}

	o.logger.Info("Research task created", "task_id", taskID)
	o.update(ctx, step, fmt.Sprintf("✅ Research task created\n\n**Task ID:** `%s`", taskID))
	return taskID, nil
}

// poll waits for taskID to reach a terminal status. A zero State in the
// returned Outcome means the task completed and its report can be fetched.
func (o *Orchestrator) poll(ctx context.Context, bearer, taskID string, em Emitter) Outcome {
	step := o.startStep(ctx, em, StepRun, "Waiting for the first status update...")

	timer := time.NewTimer(o.cfg.PollInterval)
	defer timer.Stop()

	lastState := ""
	for polls := 0; polls < o.cfg.MaxPolls; {
		select {
		case <-ctx.Done():
			// The chat is gone; leave the step pointing at the task.
			o.update(context.WithoutCancel(ctx), step, renderInterrupted(taskID))
			return Outcome{State: RunFailed, TaskID: taskID, Polls: polls, Err: ctx.Err()}
		case <-timer.C:
		}

		status, err := o.api.Status(ctx, bearer, taskID)
		polls++
		if err != nil {
			o.logger.Warn("Failed to query task status", "task_id", taskID, "error", err)
			o.update(ctx, step, fmt.Sprintf("❌ Status check failed for task `%s`: %v", taskID, err))
			return Outcome{State: RunFailed, TaskID: taskID, Polls: polls, Err: fmt.Errorf("status: %w", err)}
		}

		if status.AbstractState != lastState {
			o.update(ctx, step, RenderProgress(status.AbstractState))
			lastState = status.AbstractState
		}

		if status.Terminal() {
			if status.Status == backend.StatusFailed {
				reason := failureReason(status.Error)
				o.update(ctx, step, renderTaskFailed(reason))
				return Outcome{State: RunFailed, TaskID: taskID, Polls: polls, Err: &TaskFailedError{TaskID: taskID, Reason: reason}}
			}
			o.update(ctx, step, "✅ Research finished. Fetching the report...")
			return Outcome{TaskID: taskID, Polls: polls}
		}

		timer.Reset(o.cfg.PollInterval)
	}

	o.update(ctx, step, renderTimeout(taskID))
	return Outcome{State: RunTimedOut, TaskID: taskID, Polls: o.cfg.MaxPolls, Err: ErrPollLimit}
}

func (o *Orchestrator) fetch(ctx context.Context, bearer, taskID string, em Emitter) error {
	step := o.startStep(ctx, em, StepFetch, "Fetching the research report...")

	res, err := o.api.Result(ctx, bearer, taskID)
	if err != nil {
		o.logger.Warn("Failed to fetch research report", "task_id", taskID, "error", err)
		o.update(ctx, step, fmt.Sprintf("❌ Failed to fetch the report: %v", err))
		return fmt.Errorf("result: %w", err)
	}

	o.update(ctx, step, "✅ Research report retrieved")
	deliver(ctx, o.logger, em, taskID, res)
	return nil
}

// deliver sends the report and, when present, its sources as a second message.
func deliver(ctx context.Context, logger *slog.Logger, em Emitter, taskID string, res *backend.Result) {
	if err := em.Send(ctx, RenderReport(taskID, res.FinalReport)); err != nil {
		logger.Warn("Failed to send report", "task_id", taskID, "error", err)
	}
	if sources := RenderSources(res.SourceStr); sources != "" {
		if err := em.Send(ctx, sources); err != nil {
			logger.Warn("Failed to send sources", "task_id", taskID, "error", err)
		}
	}
}

// startStep never returns nil so callers can update without checks. A step
// returned alongside an error is still used.
func (o *Orchestrator) startStep(ctx context.Context, em Emitter, name, output string) Step {
	step, err := em.StartStep(ctx, name, output)
	if err != nil {
		o.logger.Warn("Failed to start step", "step", name, "error", err)
	}
	if step == nil {
		return discardStep{}
	}
	return step
}

func (o *Orchestrator) update(ctx context.Context, step Step, output string) {
	if err := step.Update(ctx, output); err != nil {
		o.logger.Warn("Failed to update step", "error", err)
	}
}

type discardStep struct{}

func (discardStep) Update(context.Context, string) error { return nil }
