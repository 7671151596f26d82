package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
)

const (
	defaultHubConcurrency = 16
	defaultSendTimeout    = 5 * time.Second
)

// Sink receives completed messages.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type HubConfig struct {
	Logger      *slog.Logger
	Concurrency int
	SendTimeout time.Duration
}

func (cfg *HubConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultHubConcurrency
	}
	if cfg.Concurrency < 0 {
		return errors.New("concurrency must be greater than 0")
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return nil
}

// Hub fans messages out to every registered sink. Delivery is fire-and-forget: a
// failing or slow sink never blocks the others or the caller.
type Hub struct {
	log  *slog.Logger
	cfg  *HubConfig
	pool pond.Pool

	mu    sync.RWMutex
	sinks map[string]Sink
}

func NewHub(cfg *HubConfig) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hub{
		log:   cfg.Logger,
		cfg:   cfg,
		pool:  pond.NewPool(cfg.Concurrency),
		sinks: map[string]Sink{},
	}, nil
}

// Register adds a sink and returns a function that removes it.
func (h *Hub) Register(s Sink) (unregister func()) {
	id := uuid.NewString()
	h.mu.Lock()
	h.sinks[id] = s
	n := len(h.sinks)
	h.mu.Unlock()
	h.log.Debug("chat: sink registered", "sink", s.Name(), "sinks", n)

	return func() {
		h.mu.Lock()
		delete(h.sinks, id)
		h.mu.Unlock()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Broadcast schedules delivery of msg to every sink and returns immediately.
func (h *Hub) Broadcast(msg Message) {
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg Message) pond.TaskGroup {
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	group := h.pool.NewGroup()
	for _, s := range sinks {
		group.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SendTimeout)
			defer cancel()
			if err := s.Send(ctx, msg); err != nil {
				h.log.Warn("chat: delivery failed", "sink", s.Name(), "message_id", msg.ID, "error", err)
			}
		})
	}
	return group
}

// Close waits for pending deliveries and stops the pool.
func (h *Hub) Close() {
	h.pool.StopAndWait()
}
