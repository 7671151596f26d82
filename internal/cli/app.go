package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/malbeclabs/analyst/pkg/agent"
	"github.com/malbeclabs/analyst/pkg/agent/prompts"
	"github.com/malbeclabs/analyst/pkg/agent/react"
	"github.com/malbeclabs/analyst/pkg/agent/tools"
	"github.com/malbeclabs/analyst/pkg/dataset"
	"github.com/malbeclabs/analyst/pkg/evaluator"
	"github.com/malbeclabs/analyst/pkg/pipeline"
	"github.com/malbeclabs/analyst/pkg/sandbox"
)

const ollamaHTTPTimeout = 5 * time.Minute

// App holds the components shared by every subcommand.
type App struct {
	log      *slog.Logger
	settings *Settings

	Dataset *dataset.Dataset
	Engine  sandbox.Engine
	Scorer  *evaluator.RubricScorer
	Tools   *tools.DataTools
}

// NewApp loads the dataset and builds the sandbox, evaluator and data tools.
func NewApp(ctx context.Context, log *slog.Logger, s *Settings) (*App, error) {
	loader, err := dataset.NewLoader(&dataset.LoaderConfig{
		Logger:  log,
		Options: dataset.Options{DateColumns: []string{s.DateColumn}},
		S3Env:   dataset.S3ConfigFromEnv(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset loader: %w", err)
	}
	ds, err := loader.Load(ctx, s.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	engine, err := sandbox.New(s.Engine, &sandbox.Config{Timeout: s.ExecTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	scorer, err := evaluator.NewRubricScorer(&evaluator.Config{
		Logger:  log,
		Engine:  engine,
		Dataset: ds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	toolsCfg := &tools.DataToolsConfig{
		Logger:  log,
		Dataset: ds,
		Engine:  engine,
	}
	if s.EvaluateTool {
		toolsCfg.Scorer = scorer
	}
	dataTools, err := tools.NewDataTools(toolsCfg)
	if err != nil {
		scorer.Close()
		return nil, fmt.Errorf("failed to create data tools: %w", err)
	}

	return &App{
		log:      log,
		settings: s,
		Dataset:  ds,
		Engine:   engine,
		Scorer:   scorer,
		Tools:    dataTools,
	}, nil
}

func (a *App) Close() {
	a.Scorer.Close()
}

// Pipeline builds the intent gate, the analytics agent and the orchestrator.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	llm, err := newLLM(a.settings)
	if err != nil {
		return nil, err
	}
	p, err := prompts.Load(a.Engine.Dialect())
	if err != nil {
		return nil, err
	}
	registry, err := tools.NewRegistry(a.Tools.Tools()...)
	if err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	intent, err := agent.New(&agent.Config{
		Logger:             a.log.With("agent", "intent"),
		LLM:                llm,
		SystemPrompt:       p.Intent,
		ContinuationPrompt: p.Continuation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create intent agent: %w", err)
	}
	analytics, err := agent.New(&agent.Config{
		Logger:             a.log.With("agent", "analytics"),
		LLM:                llm,
		Tools:              registry,
		SystemPrompt:       p.Analytics,
		ContinuationPrompt: p.Continuation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics agent: %w", err)
	}

	return pipeline.New(&pipeline.Config{
		Logger:               a.log,
		Intent:               intent,
		Analytics:            analytics,
		Evaluator:            a.Scorer,
		EnableCodeEvaluation: a.settings.EnableCodeEvaluation,
		Regenerate:           a.settings.Regenerate,
	})
}

func newLLM(s *Settings) (react.LLMClient, error) {
	switch s.LLM {
	case LLMAnthropic:
		if s.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic llm")
		}
		client := anthropic.NewClient(option.WithAPIKey(s.AnthropicAPIKey))
		return react.NewAnthropicClient(client, anthropic.Model(s.Model), s.MaxOutputTokens), nil
	case LLMOllama:
		return react.NewOllamaClient(s.OllamaURL, &http.Client{Timeout: ollamaHTTPTimeout}, s.Model, s.MaxOutputTokens), nil
	default:
		return nil, fmt.Errorf("unknown llm %q", s.LLM)
	}
}
