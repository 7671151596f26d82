package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Processor turns a user message into an answer.
type Processor interface {
	ProcessQuery(ctx context.Context, query string) string
}

type ServiceConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Processor Processor
	History   *History
	Hub       *Hub
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.Hub == nil {
		return errors.New("hub is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.History == nil {
		cfg.History = NewHistory(cfg.Clock)
	}
	return nil
}

type Service struct {
	log *slog.Logger
	cfg *ServiceConfig
}

func NewService(cfg *ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{log: cfg.Logger, cfg: cfg}, nil
}

// Send records the user's message, answers it and broadcasts the answer.
func (s *Service) Send(ctx context.Context, text string) Message {
	s.cfg.History.Append(RoleUser, text)
	start := s.cfg.Clock.Now()
	answer := s.cfg.Processor.ProcessQuery(ctx, text)
	msg := s.cfg.History.Append(RoleAgent, answer)
	s.log.Info("chat: answered", "message_id", msg.ID, "duration", s.cfg.Clock.Since(start))
	s.cfg.Hub.Broadcast(msg)
	return msg
}

func (s *Service) History() []Message {
	return s.cfg.History.Messages()
}

func (s *Service) Hub() *Hub {
	return s.cfg.Hub
}
