package research

import (
	"context"
	"strings"
	"sync"

	"github.com/ashureev/askdanta/internal/backend"
)

type fakeAPI struct {
	mu sync.Mutex

	submitErr error
	taskID    string
	statuses  []backend.TaskStatus // returned in order; the last one repeats
	statusErr error
	result    *backend.Result
	resultErr error
	tasks     []backend.Task
	tasksErr  error

	submits     int
	statusCalls int
	resultCalls int
	lastBearer  string
	lastConfig  map[string]any
}

var _ backend.API = (*fakeAPI)(nil)

func (f *fakeAPI) Authenticate(context.Context, string) (*backend.AuthResult, error) {
	return &backend.AuthResult{BearerToken: "jwt", UserID: "backend-user"}, nil
}

func (f *fakeAPI) Submit(_ context.Context, bearer string, req backend.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastBearer = bearer
	f.lastConfig = req.Config
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.taskID == "" {
		return "task-1", nil
	}
	return f.taskID, nil
}

func (f *fakeAPI) Status(ctx context.Context, _, _ string) (*backend.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	st := f.statuses[i]
	return &st, nil
}

func (f *fakeAPI) Result(context.Context, string, string) (*backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	r := *f.result
	return &r, nil
}

func (f *fakeAPI) ListTasks(context.Context, string) ([]backend.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks, f.tasksErr
}

func (f *fakeAPI) counts() (submits, statuses, results int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.statusCalls, f.resultCalls
}

type recordedStep struct {
	name    string
	outputs []string
}

func (s *recordedStep) last() string { return s.outputs[len(s.outputs)-1] }

type fakeEmitter struct {
	mu       sync.Mutex
	messages []string
	steps    []*recordedStep

	// stepErr is returned by StartStep; noStep also withholds the step.
	stepErr error
	noStep  bool
}

func (e *fakeEmitter) Send(_ context.Context, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, content)
	return nil
}

func (e *fakeEmitter) StartStep(_ context.Context, name, output string) (Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &recordedStep{name: name, outputs: []string{output}}
	e.steps = append(e.steps, s)
	if e.noStep {
		return nil, e.stepErr
	}
	return &fakeStep{e: e, s: s}, e.stepErr
}

func (e *fakeEmitter) step(name string) *recordedStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.steps {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (e *fakeEmitter) allMessages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.messages...)
}

type fakeStep struct {
	e *fakeEmitter
	s *recordedStep
}

func (s *fakeStep) Update(_ context.Context, output string) error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	s.s.outputs = append(s.s.outputs, output)
	return nil
}

func countPrefixed(outputs []string, prefix string) int {
	n := 0
	for _, o := range outputs {
		if strings.HasPrefix(o, prefix) {
			n++
		}
	}
	return n
}

func statuses(status string, states ...string) []backend.TaskStatus {
	out := make([]backend.TaskStatus, len(states))
	for i, s := range states {
		out[i] = backend.TaskStatus{Status: status, AbstractState: s}
	}
	return out
}
