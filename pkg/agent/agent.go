// Package agent wraps the tool loop into a single call that always produces text
// for the user: a final answer, a fixed apology when the model stays silent, or an
// error message when the model could not be reached.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/analyst/pkg/agent/react"
)

const (
	// NoAnswerMessage is returned when the model produced no text, even after being
	// asked explicitly for a final answer.
	NoAnswerMessage = "Sorry, I could not produce a final answer to your question. Please try rephrasing it."

	errorMessagePrefix = "Sorry, an error occurred while processing your request: "

	defaultMaxRounds          = 50
	defaultContinuationPrompt = "Please generate a final text answer based on the tool results above. Do not call any more tools."
)

type Config struct {
	Logger *slog.Logger
	LLM    react.LLMClient
	// Tools may be nil for an agent without tools.
	Tools              react.ToolClient
	SystemPrompt       string
	MaxRounds          int
	ContinuationPrompt string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = noTools{}
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxRounds < 0 {
		return errors.New("max rounds must be greater than 0")
	}
	if cfg.ContinuationPrompt == "" {
		cfg.ContinuationPrompt = defaultContinuationPrompt
	}
	return nil
}

type Agent struct {
	log   *slog.Logger
	cfg   *Config
	react *react.Agent
}

func New(cfg *Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loop, err := react.NewAgent(&react.Config{
		Logger:     cfg.Logger,
		LLM:        cfg.LLM,
		ToolClient: cfg.Tools,
		System:     cfg.SystemPrompt,
		MaxRounds:  cfg.MaxRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tool loop: %w", err)
	}
	return &Agent{log: cfg.Logger, cfg: cfg, react: loop}, nil
}

// Invoke answers one query. It never fails: errors and panics are turned into a
// message for the user.
func (a *Agent) Invoke(ctx context.Context, query string) (answer string) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("agent: panic during invocation", "panic", r)
			answer = ErrorMessage(fmt.Errorf("%v", r))
		}
	}()

	msgs := []react.Message{a.cfg.LLM.CreateUserMessage(query)}
	result, err := a.react.Run(ctx, msgs, nil)
	if err != nil {
		a.log.Error("agent: invocation failed", "error", err)
		return ErrorMessage(err)
	}
	if text := FinalAnswer(result.FullConversation); text != "" {
		return text
	}

	a.log.Warn("agent: no final answer, forcing continuation", "rounds", result.Rounds)
	msgs = append(result.FullConversation, a.cfg.LLM.CreateUserMessage(a.cfg.ContinuationPrompt))
	result, err = a.react.Run(ctx, msgs, nil)
	if err != nil {
		a.log.Error("agent: continuation failed", "error", err)
		return ErrorMessage(err)
	}
	if text := FinalAnswer(result.FullConversation); text != "" {
		return text
	}

	a.log.Warn("agent: no final answer after continuation")
	return NoAnswerMessage
}

// FinalAnswer scans the conversation from newest to oldest and returns the text of
// the first assistant message that has any. The literal "None" counts as empty.
// User and tool messages are skipped even when they carry text, so neither the
// query nor a tool observation is ever returned as the answer.
func FinalAnswer(msgs []react.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role() != react.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(msg.Text())
		if text == "" || text == "None" {
			continue
		}
		return text
	}
	return ""
}

// ErrorMessage is the text shown to the user when answering failed.
func ErrorMessage(err error) string {
	return errorMessagePrefix + err.Error()
}

// IsErrorMessage reports whether text was produced by ErrorMessage.
func IsErrorMessage(text string) bool {
	return strings.HasPrefix(text, errorMessagePrefix)
}

type noTools struct{}

func (noTools) ListTools(ctx context.Context) ([]react.Tool, error) {
	return nil, nil
}

func (noTools) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	return fmt.Sprintf("tool %q is not available", name), true, nil
}
