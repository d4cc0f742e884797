package domain

import (
	"time"
)

// Message kinds persisted in a thread.
const (
	KindMessage = "message"
	KindStep    = "step"
)

// Thread is one chat conversation owned by a user.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a chat message or a named step whose output is updated in place.
type Message struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	Author    string    `json:"author"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsStep reports whether the message is a progress step.
func (m *Message) IsStep() bool {
	return m.Kind == KindStep
}
