// Package chat keeps the conversation log and delivers completed answers to
// listeners such as WebSocket clients and Slack.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// History is an append-only, in-memory message log safe for concurrent use.
type History struct {
	clock clockwork.Clock
	mu    sync.RWMutex
	msgs  []Message
}

func NewHistory(clock clockwork.Clock) *History {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &History{clock: clock}
}

// Append records a message and returns it with its ID and timestamp set.
func (h *History) Append(role Role, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
	return msg
}

// Messages returns a copy of the log, oldest first.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}
