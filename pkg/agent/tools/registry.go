// Package tools holds the capabilities the analytics agent can call and a registry
// that validates and dispatches them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/malbeclabs/analyst/pkg/agent/react"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Handler runs a tool. Failures the model should see are returned as text with
// isError set; a Go error means the tool could not run at all.
type Handler func(ctx context.Context, args map[string]any) (text string, isError bool, err error)

type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

type registered struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry implements react.ToolClient over a fixed set of tools.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*registered
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]*registered{}}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if t.InputSchema == nil {
		t.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.InputSchema))
	if err != nil {
		return fmt.Errorf("invalid input schema for tool %q: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("duplicate tool name %q", t.Name)
	}
	r.tools[t.Name] = &registered{tool: t, schema: schema}
	r.order = append(r.order, t.Name)
	return nil
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) ListTools(ctx context.Context) ([]react.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]react.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		out = append(out, react.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

// CallToolText validates args against the tool's schema and runs it. Unknown tools
// and invalid arguments are reported to the model as error observations.
func (r *Registry) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	text, isErr, err := r.Call(ctx, name, args)
	if errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrInvalidArguments) {
		return err.Error(), true, nil
	}
	return text, isErr, err
}

// Call is CallToolText without the conversion of lookup and validation errors.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	available := append([]string(nil), r.order...)
	r.mu.RUnlock()
	if !ok {
		sort.Strings(available)
		return "", false, fmt.Errorf("%w %q, available tools: %s", ErrUnknownTool, name, strings.Join(available, ", "))
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := reg.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return "", false, fmt.Errorf("%w for %s: %v", ErrInvalidArguments, name, err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return "", false, fmt.Errorf("%w for %s: %s", ErrInvalidArguments, name, strings.Join(msgs, "; "))
	}

	return reg.tool.Handler(ctx, args)
}
