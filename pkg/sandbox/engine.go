// Package sandbox runs model-generated analysis code against a dataset.
//
// Each Execute call works on its own scope bound to the dataset under the name df.
// The snippet must bind its answer to the reserved name result; engines report
// ErrNoResult when it does not. Engines never mutate the dataset they receive.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const (
	// ResultName is the reserved identifier a snippet binds its answer to.
	ResultName = "result"
	// FrameName is the identifier the dataset is bound to.
	FrameName = "df"

	defaultTimeout        = 10 * time.Second
	defaultMaxOutputBytes = 64 * 1024
)

var (
	// ErrNoResult means the snippet ran but did not bind ResultName.
	ErrNoResult = errors.New("result variable not defined")

	ErrCodeExecution = errors.New("code execution error")
	ErrConfiguration = errors.New("configuration error")
	ErrLimitExceeded = errors.New("limit exceeded")
)

// Engine executes snippets in one dialect.
type Engine interface {
	Name() string
	Dialect() string
	Execute(ctx context.Context, code string, ds *dataset.Dataset) (*Result, error)
}

// Result is the outcome of a successful execution.
type Result struct {
	Value any
	// Text is Value rendered for the model.
	Text   string
	Stdout string
}

// Config holds limits shared by all engines.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
}

func (cfg *Config) Validate() error {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrConfiguration)
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.MaxOutputBytes < 0 {
		return fmt.Errorf("%w: max output bytes must be positive", ErrConfiguration)
	}
	return nil
}

// CodeError is a failure raised by the snippet itself.
type CodeError struct {
	Message string
	// Line is 1-based; zero when unknown.
	Line int
	Err  error
}

func (e *CodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
	}
	return e.Message
}

func (e *CodeError) Unwrap() error {
	return e.Err
}

func (e *CodeError) Is(target error) bool {
	return target == ErrCodeExecution
}

// StripFences removes a surrounding markdown code fence.
func StripFences(code string) string {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "```") {
		return code
	}
	lines := strings.Split(code, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// New returns the engine registered under name ("lua" or "sql").
func New(name string, cfg *Config) (Engine, error) {
	switch strings.ToLower(name) {
	case "", "lua":
		return NewLuaEngine(cfg)
	case "sql", "duckdb":
		return NewSQLEngine(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrConfiguration, name)
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (output truncated)"
}
