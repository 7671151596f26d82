package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return Tool{
		Name: name,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, bool, error) {
			return args["text"].(string), false, nil
		},
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(echoTool("echo"), echoTool("echo"))
	require.EqualError(t, err, `duplicate tool name "echo"`)
}

func TestRegistry_Register_Validation(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)
	require.EqualError(t, r.Register(Tool{}), "tool name is required")
	require.EqualError(t, r.Register(Tool{Name: "x"}), `tool "x" has no handler`)
}

func TestRegistry_ListTools_KeepsOrder(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(echoTool("b"), echoTool("a"), echoTool("c"))
	require.NoError(t, err)
	tools, err := r.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "b", tools[0].Name)
	assert.Equal(t, "a", tools[1].Name)
	assert.Equal(t, "c", tools[2].Name)
	assert.Equal(t, []string{"b", "a", "c"}, r.Names())
}

func TestRegistry_CallToolText(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(echoTool("echo"))
	require.NoError(t, err)

	out, isErr, err := r.CallToolText(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.False(t, isErr)
	assert.Equal(t, "hi", out)

	out, isErr, err = r.CallToolText(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Equal(t, `unknown tool "missing", available tools: echo`, out)

	out, isErr, err = r.CallToolText(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Contains(t, out, "invalid arguments for echo")
	assert.Contains(t, out, "text is required")

	out, isErr, err = r.CallToolText(context.Background(), "echo", map[string]any{"text": 5.0})
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Contains(t, out, "invalid arguments for echo")
}

func TestRegistry_Call_SentinelErrors(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(echoTool("echo"))
	require.NoError(t, err)

	_, _, err = r.Call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownTool)

	_, _, err = r.Call(context.Background(), "echo", map[string]any{})
	require.ErrorIs(t, err, ErrInvalidArguments)
}
