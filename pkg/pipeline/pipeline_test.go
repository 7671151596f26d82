package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/pkg/evaluator"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAgent answers with its responses in order, repeating the last one.
type fakeAgent struct {
	mu        sync.Mutex
	responses []string
	queries   []string
}

func (f *fakeAgent) Invoke(ctx context.Context, query string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	i := min(len(f.queries)-1, len(f.responses)-1)
	return f.responses[i]
}

func (f *fakeAgent) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeScorer struct {
	mu       sync.Mutex
	verdicts map[string]*evaluator.Verdict
	err      error
	codes    []string
}

func (f *fakeScorer) Score(ctx context.Context, code, query string) (*evaluator.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return f.verdicts[code], nil
}

func verdict(score int, weaknesses, suggestions []string, improved string) *evaluator.Verdict {
	return &evaluator.Verdict{
		Score:        score,
		Action:       evaluator.ActionFor(score),
		Feedback:     evaluator.Feedback{Weaknesses: weaknesses, Suggestions: suggestions},
		ImprovedCode: improved,
	}
}

func newPipeline(t *testing.T, cfg *Config) *Pipeline {
	t.Helper()
	cfg.Logger = testLogger(t)
	cfg.Clock = clockwork.NewFakeClock()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

const answerWithCode = "Average sales is **165.0**.\n\n```lua\nresult = df['Sales']:mean()\n```"

func TestPipeline_Config_Validate(t *testing.T) {
	t.Parallel()

	a := &fakeAgent{responses: []string{"x"}}
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{name: "logger", cfg: &Config{Intent: a, Analytics: a}, want: "logger is required"},
		{name: "intent", cfg: &Config{Logger: testLogger(t), Analytics: a}, want: "intent agent is required"},
		{name: "analytics", cfg: &Config{Logger: testLogger(t), Intent: a}, want: "analytics agent is required"},
		{
			name: "evaluator",
			cfg:  &Config{Logger: testLogger(t), Intent: a, Analytics: a, EnableCodeEvaluation: true},
			want: "evaluator is required when code evaluation is enabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.EqualError(t, tt.cfg.Validate(), tt.want)
		})
	}

	cfg := &Config{Logger: testLogger(t), Intent: a, Analytics: a}
	require.NoError(t, cfg.Validate())
	assert.NotNil(t, cfg.Clock)
	assert.Equal(t, 1, cfg.MaxRegenerations)
}

func TestPipeline_IntentBlocked(t *testing.T) {
	t.Parallel()

	rejection := "Sorry, I specialize in data analysis. I can help you with statistics, metrics and insights about the available data."
	intent := &fakeAgent{responses: []string{rejection}}
	analytics := &fakeAgent{responses: []string{"should not run"}}
	p := newPipeline(t, &Config{Intent: intent, Analytics: analytics})

	assert.Equal(t, rejection, p.ProcessQuery(context.Background(), "tell me a joke"))
	assert.Equal(t, 0, analytics.calls())
}

func TestPipeline_IntentNearMissIsRejection(t *testing.T) {
	t.Parallel()

	for _, intentOut := range []string{"ALLOWED.", "allowed", "Yes, ALLOWED", ""} {
		analytics := &fakeAgent{responses: []string{"answer"}}
		p := newPipeline(t, &Config{Intent: &fakeAgent{responses: []string{intentOut}}, Analytics: analytics})
		assert.Equal(t, intentOut, p.ProcessQuery(context.Background(), "q"))
		assert.Equal(t, 0, analytics.calls(), "intent %q", intentOut)
	}
}

func TestPipeline_AllowedWithoutEvaluation(t *testing.T) {
	t.Parallel()

	analytics := &fakeAgent{responses: []string{answerWithCode}}
	scorer := &fakeScorer{}
	p := newPipeline(t, &Config{
		Intent:    &fakeAgent{responses: []string{"  ALLOWED\n"}},
		Analytics: analytics,
		Evaluator: scorer,
	})

	assert.Equal(t, answerWithCode, p.ProcessQuery(context.Background(), "average sales?"))
	assert.Equal(t, []string{"average sales?"}, analytics.queries)
	assert.Empty(t, scorer.codes)
}

func TestPipeline_Evaluation(t *testing.T) {
	t.Parallel()

	code := "result = df['Sales']:mean()"
	tests := []struct {
		name     string
		response string
		verdict  *evaluator.Verdict
		want     string
	}{
		{
			name:     "no code block",
			response: "Average sales is 165.0.",
			want:     "Average sales is 165.0.",
		},
		{
			name:     "approve",
			response: answerWithCode,
			verdict:  verdict(90, nil, nil, ""),
			want:     answerWithCode,
		},
		{
			name:     "improve",
			response: answerWithCode,
			verdict:  verdict(70, []string{"Fails with an empty dataset"}, []string{"Add input validation"}, "if df.empty then\n  result = 0\nend"),
			want: answerWithCode + "\n\n**Suggestions for improvement:**\n- Add input validation\n" +
				"\n**Improved code:**\n```\nif df.empty then\n  result = 0\nend\n```",
		},
		{
			name:     "improve without replacement code",
			response: answerWithCode,
			verdict:  verdict(60, nil, []string{"Add input validation"}, ""),
			want:     answerWithCode + "\n\n**Suggestions for improvement:**\n- Add input validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			scorer := &fakeScorer{verdicts: map[string]*evaluator.Verdict{code: tt.verdict}}
			p := newPipeline(t, &Config{
				Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
				Analytics:            &fakeAgent{responses: []string{tt.response}},
				Evaluator:            scorer,
				EnableCodeEvaluation: true,
			})
			assert.Equal(t, tt.want, p.ProcessQuery(context.Background(), "average sales?"))
		})
	}
}

func TestPipeline_LowScoreReturnsRegenerationInstruction(t *testing.T) {
	t.Parallel()

	code := "result = df['Sales']:mean()"
	scorer := &fakeScorer{verdicts: map[string]*evaluator.Verdict{
		code: verdict(45, []string{"no validation"}, nil, ""),
	}}
	analytics := &fakeAgent{responses: []string{answerWithCode}}
	p := newPipeline(t, &Config{
		Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
		Analytics:            analytics,
		Evaluator:            scorer,
		EnableCodeEvaluation: true,
	})

	out := p.ProcessQuery(context.Background(), "average sales?")
	assert.Contains(t, out, "45")
	assert.Contains(t, out, "no validation")
	assert.Contains(t, out, "low score")
	assert.Equal(t, 1, analytics.calls())
}

func TestPipeline_ClosedLoopRegeneration(t *testing.T) {
	t.Parallel()

	better := "Average sales is **165.0**.\n\n```lua\nif df.empty then\n  result = 0\nelse\n  result = df['Sales']:mean()\nend\n```"
	scorer := &fakeScorer{verdicts: map[string]*evaluator.Verdict{
		"result = df['Sales']:mean()": verdict(45, []string{"no validation"}, nil, ""),
		"if df.empty then\n  result = 0\nelse\n  result = df['Sales']:mean()\nend": verdict(90, nil, nil, ""),
	}}
	analytics := &fakeAgent{responses: []string{answerWithCode, better}}
	p := newPipeline(t, &Config{
		Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
		Analytics:            analytics,
		Evaluator:            scorer,
		EnableCodeEvaluation: true,
		Regenerate:           true,
	})

	assert.Equal(t, better, p.ProcessQuery(context.Background(), "average sales?"))
	require.Equal(t, 2, analytics.calls())
	assert.Contains(t, analytics.queries[1], "average sales?")
	assert.Contains(t, analytics.queries[1], "no validation")
}

func TestPipeline_ClosedLoopKeepsBestWhenRetryIsWorse(t *testing.T) {
	t.Parallel()

	worse := "```lua\nresult = nil\n```"
	scorer := &fakeScorer{verdicts: map[string]*evaluator.Verdict{
		"result = df['Sales']:mean()": verdict(50, []string{"no validation"}, []string{"Add input validation"}, ""),
		"result = nil":                verdict(10, nil, nil, ""),
	}}
	p := newPipeline(t, &Config{
		Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
		Analytics:            &fakeAgent{responses: []string{answerWithCode, worse}},
		Evaluator:            scorer,
		EnableCodeEvaluation: true,
		Regenerate:           true,
		MaxRegenerations:     2,
	})

	out := p.ProcessQuery(context.Background(), "average sales?")
	assert.Equal(t, answerWithCode+"\n\n**Suggestions for improvement:**\n- Add input validation", out)
}

func TestPipeline_EvaluationErrorSurfacesAsText(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, &Config{
		Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
		Analytics:            &fakeAgent{responses: []string{answerWithCode}},
		Evaluator:            &fakeScorer{err: errors.New("pool stopped")},
		EnableCodeEvaluation: true,
	})
	assert.Equal(t,
		"Sorry, an error occurred while processing your request: code evaluation failed: pool stopped",
		p.ProcessQuery(context.Background(), "average sales?"))
}

func TestPipeline_EvaluationRoutesByScore(t *testing.T) {
	t.Parallel()

	code := "result = df['Sales']:mean()"
	tests := []struct {
		name    string
		verdict *evaluator.Verdict
		want    string
	}{
		{
			name:    "high score without action is approved",
			verdict: &evaluator.Verdict{Score: 90},
			want:    answerWithCode,
		},
		{
			name: "low score labelled approve is rewritten",
			verdict: &evaluator.Verdict{
				Score:    45,
				Action:   evaluator.ActionApprove,
				Feedback: evaluator.Feedback{Weaknesses: []string{"no validation"}},
			},
			want: "The generated code received a low score (45/100) and should be rewritten.\n" +
				"\nWeaknesses:\n- no validation\n" +
				"\nRewrite the code addressing these issues, run it again and answer the original question.",
		},
		{
			name: "mid score labelled rewrite gets improvements",
			verdict: &evaluator.Verdict{
				Score:    70,
				Action:   evaluator.ActionRewrite,
				Feedback: evaluator.Feedback{Suggestions: []string{"Check for an empty dataset"}},
			},
			want: answerWithCode + "\n\n**Suggestions for improvement:**\n- Check for an empty dataset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newPipeline(t, &Config{
				Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
				Analytics:            &fakeAgent{responses: []string{answerWithCode}},
				Evaluator:            &fakeScorer{verdicts: map[string]*evaluator.Verdict{code: tt.verdict}},
				EnableCodeEvaluation: true,
			})
			assert.Equal(t, tt.want, p.ProcessQuery(context.Background(), "average sales?"))
		})
	}
}

func TestPipeline_MissingVerdictSurfacesAsText(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, &Config{
		Intent:               &fakeAgent{responses: []string{"ALLOWED"}},
		Analytics:            &fakeAgent{responses: []string{answerWithCode}},
		Evaluator:            &fakeScorer{verdicts: map[string]*evaluator.Verdict{}},
		EnableCodeEvaluation: true,
	})
	assert.Equal(t,
		"Sorry, an error occurred while processing your request: code evaluation failed: scorer returned no verdict",
		p.ProcessQuery(context.Background(), "average sales?"))
}

func TestPipeline_ExtractCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{name: "none", text: "no code here"},
		{name: "lua", text: "x\n```lua\nresult = 1\n```\ny", want: "result = 1", wantOK: true},
		{name: "untagged", text: "```\nSELECT 1\n```", want: "SELECT 1", wantOK: true},
		{name: "last block wins", text: "```sql\nSELECT 1\n```\nthen\n```sql\nSELECT 2\n```", want: "SELECT 2", wantOK: true},
		{name: "empty block", text: "```\n```"},
		{name: "unterminated", text: "```lua\nresult = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractCode(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPipeline_RegenerationInstruction(t *testing.T) {
	t.Parallel()

	v := verdict(30, []string{"Fails with an empty dataset", "No 'result' variable defined"}, []string{"Add input validation"}, "")
	want := "The generated code received a low score (30/100) and should be rewritten.\n" +
		"\nWeaknesses:\n- Fails with an empty dataset\n- No 'result' variable defined\n" +
		"\nSuggestions:\n- Add input validation\n" +
		"\nRewrite the code addressing these issues, run it again and answer the original question."
	assert.Equal(t, want, RegenerationInstruction(v))
}
