package research

import "context"

// Emitter delivers rendered output to one chat.
type Emitter interface {
	// Send posts a standalone message.
	Send(ctx context.Context, content string) error
	// StartStep opens a named step with its initial output.
	StartStep(ctx context.Context, name, output string) (Step, error)
}

// Step is a named unit of progress whose output is replaced in place.
type Step interface {
	Update(ctx context.Context, output string) error
}
