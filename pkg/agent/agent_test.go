package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/pkg/agent/react"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type turn struct {
	text     string
	toolCall string
	panic    bool
}

// scriptedLLM answers calls with the given turns in order, then with empty turns.
type scriptedLLM struct {
	mu    sync.Mutex
	turns []turn
	calls int
	last  []react.Message
	err   error
}

func (s *scriptedLLM) Call(ctx context.Context, system string, messages []react.Message, tools []react.Tool) (react.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if err := unansweredToolCall(messages); err != nil {
		return nil, err
	}
	s.last = append([]react.Message(nil), messages...)
	var t turn
	if s.calls < len(s.turns) {
		t = s.turns[s.calls]
	}
	s.calls++
	if t.panic {
		panic("engine exploded")
	}
	return &scriptedResponse{turn: t, id: s.calls}, nil
}

func (s *scriptedLLM) ConvertToolResults(toolUses []react.ToolUse, results []react.ToolResult) ([]react.Message, error) {
	var out []react.Message
	for i, tu := range toolUses {
		out = append(out, resultMessage{id: tu.ID, content: results[i].Content})
	}
	return out, nil
}

// unansweredToolCall rejects a request where a tool call is not immediately
// followed by its result, as the Anthropic Messages API does.
func unansweredToolCall(msgs []react.Message) error {
	for i, m := range msgs {
		call, ok := m.(callMessage)
		if !ok {
			continue
		}
		answered := map[string]bool{}
		for _, next := range msgs[i+1:] {
			res, ok := next.(resultMessage)
			if !ok {
				break
			}
			answered[res.id] = true
		}
		if !answered[call.id] {
			return fmt.Errorf("tool_use ids were found without tool_result blocks immediately after: %s", call.id)
		}
	}
	return nil
}

// callMessage is an assistant turn that requested a tool.
type callMessage struct {
	id   string
	text string
}

func (m callMessage) ToParam() any     { return map[string]any{"role": "assistant", "tool_use": m.id} }
func (m callMessage) Role() react.Role { return react.RoleAssistant }
func (m callMessage) Text() string     { return m.text }

type resultMessage struct {
	id      string
	content string
}

func (m resultMessage) ToParam() any     { return map[string]any{"role": "user", "tool_result": m.id} }
func (m resultMessage) Role() react.Role { return react.RoleTool }
func (m resultMessage) Text() string     { return m.content }

func (s *scriptedLLM) CreateUserMessage(content string) react.Message {
	return react.GenericMessage{Author: react.RoleUser, Content: content}
}

type scriptedResponse struct {
	turn turn
	id   int
}

func (r *scriptedResponse) Content() []react.ContentBlock {
	var blocks []react.ContentBlock
	if r.turn.text != "" {
		blocks = append(blocks, textBlock(r.turn.text))
	}
	if r.turn.toolCall != "" {
		blocks = append(blocks, toolBlock{id: r.callID(), name: r.turn.toolCall})
	}
	return blocks
}

func (r *scriptedResponse) ToMessage() react.Message {
	if r.turn.toolCall != "" {
		return callMessage{id: r.callID(), text: r.turn.text}
	}
	return react.GenericMessage{Author: react.RoleAssistant, Content: r.turn.text}
}

func (r *scriptedResponse) callID() string {
	return fmt.Sprintf("call-%d", r.id)
}

type textBlock string

func (b textBlock) AsText() (string, bool)                    { return string(b), true }
func (b textBlock) AsToolUse() (string, string, []byte, bool) { return "", "", nil, false }

type toolBlock struct {
	id   string
	name string
}

func (b toolBlock) AsText() (string, bool) { return "", false }
func (b toolBlock) AsToolUse() (string, string, []byte, bool) {
	input, _ := json.Marshal(map[string]any{})
	return b.id, b.name, input, true
}

type stubTools struct{}

func (stubTools) ListTools(ctx context.Context) ([]react.Tool, error) {
	return []react.Tool{{Name: "get_metadata", InputSchema: map[string]any{"type": "object"}}}, nil
}

func (stubTools) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	return "Head:\n| Sales |", false, nil
}

func newAgent(t *testing.T, llm react.LLMClient, maxRounds int) *Agent {
	t.Helper()
	a, err := New(&Config{
		Logger:       testLogger(t),
		LLM:          llm,
		Tools:        stubTools{},
		SystemPrompt: "You are an analyst.",
		MaxRounds:    maxRounds,
	})
	require.NoError(t, err)
	return a
}

func TestAgent_Config_Validate(t *testing.T) {
	t.Parallel()

	require.EqualError(t, (&Config{LLM: &scriptedLLM{}}).Validate(), "logger is required")
	require.EqualError(t, (&Config{Logger: testLogger(t)}).Validate(), "LLM is required")

	cfg := &Config{Logger: testLogger(t), LLM: &scriptedLLM{}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.MaxRounds)
	assert.Equal(t, defaultContinuationPrompt, cfg.ContinuationPrompt)
	assert.NotNil(t, cfg.Tools)
}

func TestAgent_Invoke_ReturnsFinalAnswer(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{turns: []turn{
		{toolCall: "get_metadata"},
		{text: "The average sale is **165.0**."},
	}}
	assert.Equal(t, "The average sale is **165.0**.", newAgent(t, llm, 10).Invoke(context.Background(), "average sales?"))
	assert.Equal(t, 2, llm.calls)
}

func TestAgent_Invoke_WithoutTools(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{turns: []turn{{text: "  ALLOWED\n"}}}
	a, err := New(&Config{Logger: testLogger(t), LLM: llm, SystemPrompt: "classify"})
	require.NoError(t, err)
	assert.Equal(t, "ALLOWED", a.Invoke(context.Background(), "total sales?"))
}

func TestAgent_Invoke_ForcesContinuation(t *testing.T) {
	t.Parallel()

	// The last round ends on a tool call, so the first run has no text.
	llm := &scriptedLLM{turns: []turn{
		{toolCall: "get_metadata"},
		{toolCall: "get_metadata"},
		{text: "Total sales are 825.0."},
	}}
	a := newAgent(t, llm, 2)
	a.cfg.ContinuationPrompt = "answer now"

	assert.Equal(t, "Total sales are 825.0.", a.Invoke(context.Background(), "total?"))
	assert.Equal(t, 3, llm.calls)
	require.NotEmpty(t, llm.last)
	var sawContinuation, sawSkipped bool
	for _, m := range llm.last {
		if m.Role() == react.RoleUser && m.Text() == "answer now" {
			sawContinuation = true
		}
		if m.Role() == react.RoleTool && m.Text() == react.SkippedToolResult {
			sawSkipped = true
		}
	}
	assert.True(t, sawContinuation)
	assert.True(t, sawSkipped, "pending tool call must be answered before continuing")
}

func TestAgent_Invoke_TextBesidePendingToolCallIsTheAnswer(t *testing.T) {
	t.Parallel()

	// The last round carries text next to a tool call that is never executed.
	llm := &scriptedLLM{turns: []turn{
		{toolCall: "get_metadata"},
		{text: "Checking the data.", toolCall: "get_metadata"},
		{toolCall: "get_metadata"},
		{toolCall: "get_metadata"},
	}}
	out := newAgent(t, llm, 2).Invoke(context.Background(), "total?")
	assert.False(t, IsErrorMessage(out), out)
	assert.Equal(t, "Checking the data.", out)
	assert.Equal(t, 2, llm.calls)
}

func TestAgent_Invoke_SilentAfterPendingToolCalls(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{turns: []turn{
		{toolCall: "get_metadata"},
		{toolCall: "get_metadata"},
		{toolCall: "get_metadata"},
		{toolCall: "get_metadata"},
	}}
	// The continuation is sent after the pending calls are answered, so the engine
	// accepts it and the wrapper falls back to the apology instead of an error.
	out := newAgent(t, llm, 2).Invoke(context.Background(), "total?")
	assert.Equal(t, NoAnswerMessage, out)
	assert.Equal(t, 4, llm.calls)
}

func TestAgent_Invoke_ApologizesWhenSilent(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{turns: []turn{{text: "None"}, {text: ""}}}
	assert.Equal(t, NoAnswerMessage, newAgent(t, llm, 5).Invoke(context.Background(), "q"))
	assert.Equal(t, 2, llm.calls)
}

func TestAgent_Invoke_EngineError(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{err: errors.New("rate limited")}
	out := newAgent(t, llm, 5).Invoke(context.Background(), "q")
	assert.Equal(t, "Sorry, an error occurred while processing your request: failed to get response: rate limited", out)
	assert.True(t, IsErrorMessage(out))
}

func TestAgent_Invoke_RecoversPanic(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{turns: []turn{{panic: true}}}
	out := newAgent(t, llm, 5).Invoke(context.Background(), "q")
	assert.Equal(t, "Sorry, an error occurred while processing your request: engine exploded", out)
}

func TestAgent_FinalAnswer(t *testing.T) {
	t.Parallel()

	msg := func(role react.Role, text string) react.Message {
		return react.GenericMessage{Author: role, Content: text}
	}
	tests := []struct {
		name string
		msgs []react.Message
		want string
	}{
		{name: "empty", want: ""},
		{
			name: "newest assistant text wins",
			msgs: []react.Message{msg(react.RoleUser, "q"), msg(react.RoleAssistant, "first"), msg(react.RoleAssistant, "second")},
			want: "second",
		},
		{
			name: "skips empty and None",
			msgs: []react.Message{msg(react.RoleAssistant, "real"), msg(react.RoleAssistant, "None"), msg(react.RoleAssistant, "  ")},
			want: "real",
		},
		{
			name: "ignores tool observations",
			msgs: []react.Message{msg(react.RoleUser, "q"), msg(react.RoleTool, "Analysis result: 5")},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FinalAnswer(tt.msgs))
		})
	}
}
