// Package pipeline sequences one user query through the intent gate, the analytics
// agent and, when enabled, the code evaluator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/analyst/pkg/agent"
	"github.com/malbeclabs/analyst/pkg/evaluator"
)

// AllowedToken is the exact intent answer that lets a query through.
const AllowedToken = "ALLOWED"

var errNoVerdict = errors.New("scorer returned no verdict")

// Agent answers a query with text. It never fails; failures are part of the text.
type Agent interface {
	Invoke(ctx context.Context, query string) string
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Intent    Agent
	Analytics Agent
	Evaluator evaluator.Scorer

	EnableCodeEvaluation bool
	// Regenerate re-runs the analytics agent with the evaluator's feedback instead of
	// returning the feedback to the user.
	Regenerate       bool
	MaxRegenerations int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Intent == nil {
		return errors.New("intent agent is required")
	}
	if cfg.Analytics == nil {
		return errors.New("analytics agent is required")
	}
	if cfg.EnableCodeEvaluation && cfg.Evaluator == nil {
		return errors.New("evaluator is required when code evaluation is enabled")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxRegenerations == 0 {
		cfg.MaxRegenerations = 1
	}
	if cfg.MaxRegenerations < 0 {
		return errors.New("max regenerations must be greater than 0")
	}
	return nil
}

type Pipeline struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// ProcessQuery runs one query to a terminal text response.
func (p *Pipeline) ProcessQuery(ctx context.Context, query string) (response string) {
	start := p.cfg.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline: panic", "panic", r)
			Outcomes.WithLabelValues(outcomeError).Inc()
			response = agent.ErrorMessage(fmt.Errorf("%v", r))
		}
		p.log.Info("pipeline: query processed", "duration", p.cfg.Clock.Since(start))
	}()

	intent := p.timed(stageIntent, func() string {
		return p.cfg.Intent.Invoke(ctx, query)
	})
	if strings.TrimSpace(intent) != AllowedToken {
		p.log.Info("pipeline: intent blocked", "query", query)
		Outcomes.WithLabelValues(outcomeBlocked).Inc()
		return intent
	}
	p.log.Info("pipeline: intent allowed", "elapsed", p.cfg.Clock.Since(start))

	candidate := p.timed(stageAnalyze, func() string {
		return p.cfg.Analytics.Invoke(ctx, query)
	})
	p.log.Info("pipeline: analysis complete", "elapsed", p.cfg.Clock.Since(start))

	if !p.cfg.EnableCodeEvaluation {
		Outcomes.WithLabelValues(outcomeAnswered).Inc()
		return candidate
	}
	return p.evaluate(ctx, query, candidate)
}

func (p *Pipeline) evaluate(ctx context.Context, query, candidate string) string {
	code, ok := ExtractCode(candidate)
	if !ok {
		p.log.Info("pipeline: no code block in response, skipping evaluation")
		Outcomes.WithLabelValues(outcomeNoCode).Inc()
		return candidate
	}

	verdict, err := p.score(ctx, code, query)
	if err != nil {
		p.log.Error("pipeline: evaluation failed", "error", err)
		Outcomes.WithLabelValues(outcomeError).Inc()
		return agent.ErrorMessage(fmt.Errorf("code evaluation failed: %w", err))
	}
	// Routing follows the score; the scorer's own Action is advisory.
	action := evaluator.ActionFor(verdict.Score)
	p.log.Info("pipeline: code evaluated", "score", verdict.Score, "action", action)

	switch action {
	case evaluator.ActionApprove:
		Outcomes.WithLabelValues(outcomeApproved).Inc()
		return candidate
	case evaluator.ActionImprove:
		Outcomes.WithLabelValues(outcomeImproved).Inc()
		return AppendImprovements(candidate, verdict)
	}

	if !p.cfg.Regenerate {
		Outcomes.WithLabelValues(outcomeRewrite).Inc()
		return RegenerationInstruction(verdict)
	}
	return p.regenerate(ctx, query, candidate, verdict)
}

// regenerate asks the analytics agent again with the evaluator's feedback and keeps
// the best scoring response.
func (p *Pipeline) regenerate(ctx context.Context, query, candidate string, verdict *evaluator.Verdict) string {
	best, bestVerdict := candidate, verdict
	for attempt := 1; attempt <= p.cfg.MaxRegenerations; attempt++ {
		p.log.Info("pipeline: regenerating", "attempt", attempt, "score", bestVerdict.Score)
		prompt := query + "\n\n" + RegenerationInstruction(bestVerdict)
		next := p.timed(stageRegenerate, func() string {
			return p.cfg.Analytics.Invoke(ctx, prompt)
		})
		code, ok := ExtractCode(next)
		if !ok {
			continue
		}
		v, err := p.score(ctx, code, query)
		if err != nil {
			p.log.Warn("pipeline: evaluation of regenerated response failed", "attempt", attempt, "error", err)
			continue
		}
		if v.Score > bestVerdict.Score {
			best, bestVerdict = next, v
		}
		if evaluator.ActionFor(bestVerdict.Score) != evaluator.ActionRewrite {
			break
		}
	}

	Outcomes.WithLabelValues(outcomeRegenerate).Inc()
	if evaluator.ActionFor(bestVerdict.Score) == evaluator.ActionApprove {
		return best
	}
	return AppendImprovements(best, bestVerdict)
}

func (p *Pipeline) score(ctx context.Context, code, query string) (*evaluator.Verdict, error) {
	start := p.cfg.Clock.Now()
	defer func() {
		StageDuration.WithLabelValues(stageEvaluate).Observe(p.cfg.Clock.Since(start).Seconds())
	}()
	v, err := p.cfg.Evaluator.Score(ctx, code, query)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errNoVerdict
	}
	EvaluationScores.Observe(float64(v.Score))
	return v, nil
}

func (p *Pipeline) timed(stage string, fn func() string) string {
	start := p.cfg.Clock.Now()
	out := fn()
	elapsed := p.cfg.Clock.Since(start)
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	p.log.Debug("pipeline: stage finished", "stage", stage, "duration", elapsed.Round(time.Millisecond))
	return out
}

var codeBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\n(.*?)```")

// ExtractCode returns the body of the last fenced code block in text.
func ExtractCode(text string) (string, bool) {
	matches := codeBlock.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	code := strings.TrimSpace(matches[len(matches)-1][1])
	return code, code != ""
}

// AppendImprovements adds the evaluator's suggestions, and its improved code when
// there is any, to a response.
func AppendImprovements(response string, v *evaluator.Verdict) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(response, "\n"))
	if len(v.Feedback.Suggestions) > 0 {
		sb.WriteString("\n\n**Suggestions for improvement:**\n")
		for _, s := range v.Feedback.Suggestions {
			sb.WriteString("- " + s + "\n")
		}
	}
	if v.ImprovedCode != "" {
		sb.WriteString("\n**Improved code:**\n```\n" + v.ImprovedCode + "\n```\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RegenerationInstruction asks for a rewrite, quoting the low score and the
// weaknesses found.
func RegenerationInstruction(v *evaluator.Verdict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The generated code received a low score (%d/100) and should be rewritten.\n", v.Score)
	if len(v.Feedback.Weaknesses) > 0 {
		sb.WriteString("\nWeaknesses:\n")
		for _, w := range v.Feedback.Weaknesses {
			sb.WriteString("- " + w + "\n")
		}
	}
	if len(v.Feedback.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		for _, s := range v.Feedback.Suggestions {
			sb.WriteString("- " + s + "\n")
		}
	}
	sb.WriteString("\nRewrite the code addressing these issues, run it again and answer the original question.")
	return sb.String()
}
