// Package evaluator scores generated analysis code with a fixed rubric: execution,
// robustness against derived datasets, and source heuristics. Scoring never calls
// the reasoning engine, so the same code and dataset always get the same score.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alitto/pond/v2"

	"github.com/malbeclabs/analyst/pkg/dataset"
	"github.com/malbeclabs/analyst/pkg/sandbox"
)

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionImprove Action = "IMPROVE"
	ActionRewrite Action = "REWRITE"

	ApproveThreshold = 80
	ImproveThreshold = 60

	executionPoints = 40
	probePoints     = 10
)

// ActionFor maps a score to the recommended action.
func ActionFor(score int) Action {
	switch {
	case score >= ApproveThreshold:
		return ActionApprove
	case score >= ImproveThreshold:
		return ActionImprove
	default:
		return ActionRewrite
	}
}

type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type Feedback struct {
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

// Verdict is the assessment of one snippet.
type Verdict struct {
	Score           int      `json:"score"`
	PassedExecution bool     `json:"passed_execution"`
	Checks          []Check  `json:"checks"`
	PassedTests     string   `json:"passed_tests"`
	Feedback        Feedback `json:"feedback"`
	Action          Action   `json:"action"`
	ImprovedCode    string   `json:"improved_code,omitempty"`
}

// Scorer assesses a snippet in the context of the question it answers.
type Scorer interface {
	Score(ctx context.Context, code, query string) (*Verdict, error)
}

type Config struct {
	Logger  *slog.Logger
	Engine  sandbox.Engine
	Dataset *dataset.Dataset
	// Rules default to the embedded rules for the engine's dialect.
	Rules *DialectRules
	// Concurrency bounds how many probes run at once across all Score calls.
	Concurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Dataset == nil {
		cfg.Dataset = dataset.Empty()
	}
	if cfg.Rules == nil {
		rules, err := DefaultRules(cfg.Engine.Dialect())
		if err != nil {
			return err
		}
		cfg.Rules = rules
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 8
	}
	if cfg.Concurrency < 0 {
		return errors.New("concurrency must be greater than 0")
	}
	return nil
}

// RubricScorer is the default Scorer.
type RubricScorer struct {
	log  *slog.Logger
	cfg  *Config
	pool pond.ResultPool[probeOutcome]
}

func NewRubricScorer(cfg *Config) (*RubricScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RubricScorer{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[probeOutcome](cfg.Concurrency),
	}, nil
}

// Close waits for running probes and stops the worker pool.
func (s *RubricScorer) Close() {
	s.pool.StopAndWait()
}

type probe struct {
	name string
	ds   *dataset.Dataset
}

type probeOutcome struct {
	name string
	err  error
}

func (s *RubricScorer) Score(ctx context.Context, code, query string) (*Verdict, error) {
	rules := s.cfg.Rules
	v := &Verdict{
		Feedback: Feedback{Strengths: []string{}, Weaknesses: []string{}, Suggestions: []string{}},
	}

	// Execution against the live dataset.
	_, err := s.cfg.Engine.Execute(ctx, code, s.cfg.Dataset)
	switch {
	case err == nil:
		v.PassedExecution = true
		v.Score += executionPoints
		v.Feedback.Strengths = append(v.Feedback.Strengths, "Code executes successfully")
		v.Checks = append(v.Checks, Check{Name: "execution", Passed: true})
	case errors.Is(err, sandbox.ErrNoResult):
		v.Feedback.Weaknesses = append(v.Feedback.Weaknesses, rules.NoResult)
		v.Checks = append(v.Checks, Check{Name: "execution", Detail: rules.NoResult})
	default:
		v.Feedback.Weaknesses = append(v.Feedback.Weaknesses, "Execution error: "+err.Error())
		v.Checks = append(v.Checks, Check{Name: "execution", Detail: err.Error()})
	}

	// Robustness probes, each on its own derived dataset. A probe passes when the
	// code runs without raising, bound result or not.
	single := dataset.Empty()
	if !s.cfg.Dataset.IsEmpty() {
		single = s.cfg.Dataset.Head(1)
	}
	empty := dataset.Empty()
	if rules.EmptyKeepsColumns {
		empty = s.cfg.Dataset.Head(0)
	}
	probes := []probe{
		{name: "empty", ds: empty},
		{name: "missing", ds: s.cfg.Dataset.WithMissing()},
		{name: "single_row", ds: single},
	}
	group := s.pool.NewGroupContext(ctx)
	for _, p := range probes {
		group.Submit(func() probeOutcome {
			_, err := s.cfg.Engine.Execute(ctx, code, p.ds)
			if errors.Is(err, sandbox.ErrNoResult) {
				err = nil
			}
			return probeOutcome{name: p.name, err: err}
		})
	}
	outcomes, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to run robustness probes: %w", err)
	}

	passed := 0
	for _, o := range outcomes {
		check := Check{Name: o.name, Passed: o.err == nil}
		if o.err == nil {
			passed++
			v.Score += probePoints
		} else {
			check.Detail = o.err.Error()
			msg := rules.Probes[o.name]
			if msg.Weakness != "" {
				v.Feedback.Weaknesses = append(v.Feedback.Weaknesses, msg.Weakness)
			}
			if msg.Suggestion != "" {
				v.Feedback.Suggestions = append(v.Feedback.Suggestions, msg.Suggestion)
			}
		}
		v.Checks = append(v.Checks, check)
	}
	v.PassedTests = fmt.Sprintf("%d/%d", passed, len(probes))

	// Source heuristics.
	for _, rule := range rules.Rules {
		ok := rule.Matches(code)
		v.Checks = append(v.Checks, Check{Name: rule.Name, Passed: ok})
		switch {
		case ok:
			v.Score += rule.Points
			v.Feedback.Strengths = append(v.Feedback.Strengths, rule.Strength)
		case rule.shouldSuggest(code):
			v.Feedback.Suggestions = append(v.Feedback.Suggestions, rule.Suggestion)
		}
	}

	v.Action = ActionFor(v.Score)
	if v.Action == ActionImprove {
		improved, err := rules.improve(sandbox.StripFences(code))
		if err != nil {
			s.log.Warn("evaluator: failed to build improved code", "error", err)
		}
		v.ImprovedCode = improved
	}

	s.log.Info("evaluator: code scored", "score", v.Score, "action", v.Action, "passed_tests", v.PassedTests, "query", query)
	return v, nil
}

// Summary renders the verdict for people: score, action and feedback lists.
func (v *Verdict) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Score: %d/100 (%s), robustness tests passed: %s\n", v.Score, v.Action, v.PassedTests)
	for _, section := range []struct {
		title string
		items []string
	}{
		{"Strengths", v.Feedback.Strengths},
		{"Weaknesses", v.Feedback.Weaknesses},
		{"Suggestions", v.Feedback.Suggestions},
	} {
		if len(section.items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n", section.title)
		for _, item := range section.items {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
