package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func newFlagSet(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.BoolP("verbose", "v", false, "")
	fs.String("config", "", "")
	fs.String("dataset", defaultDataset, "")
	fs.String("engine", defaultEngine, "")
	fs.String("llm", LLMAnthropic, "")
	fs.String("model", "", "")
	fs.Bool("evaluate", false, "")
	fs.Bool("regenerate", false, "")
	fs.String("port", defaultPort, "")
	return fs
}

func TestSettings_Defaults(t *testing.T) {
	t.Parallel()

	s, err := resolveSettings(newFlagSet(t), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, LLMAnthropic, s.LLM)
	assert.Equal(t, defaultAnthropicModel, s.Model)
	assert.Equal(t, "Order Date", s.DateColumn)
	assert.Equal(t, "lua", s.Engine)
	assert.Equal(t, "8000", s.Port)
	assert.False(t, s.EnableCodeEvaluation)
	assert.False(t, s.Regenerate)
}

func TestSettings_Precedence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "analyst.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm: ollama
dataset: file.csv
engine: sql
exec_timeout: 3s
allowed_origins: ["http://a", "http://b"]
`), 0o644))

	fs := newFlagSet(t)
	require.NoError(t, fs.Parse([]string{"--config", path, "--engine", "lua"}))

	s, err := resolveSettings(fs, envMap(map[string]string{
		"ANALYST_DATASET":        "s3://bucket/env.csv",
		"ANALYST_ENGINE":         "sql",
		"ENABLE_CODE_EVALUATION": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, LLMOllama, s.LLM, "from file")
	assert.Equal(t, defaultOllamaModel, s.Model, "default for the file's llm")
	assert.Equal(t, 3*time.Second, s.ExecTimeout, "from file")
	assert.Equal(t, []string{"http://a", "http://b"}, s.AllowedOrigins)
	assert.Equal(t, "s3://bucket/env.csv", s.Dataset, "env beats file")
	assert.Equal(t, "lua", s.Engine, "flag beats env")
	assert.True(t, s.EnableCodeEvaluation)
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown llm", env: map[string]string{"ANALYST_LLM": "gpt"}, want: `unknown llm "gpt" (want anthropic or ollama)`},
		{name: "regenerate without evaluation", env: map[string]string{"ANALYST_REGENERATE": "1"}, want: "regeneration requires code evaluation to be enabled"},
		{name: "slack token without channel", env: map[string]string{"SLACK_BOT_TOKEN": "xoxb"}, want: "SLACK_BOT_TOKEN and SLACK_CHANNEL must be set together"},
		{name: "bad bool", env: map[string]string{"ENABLE_CODE_EVALUATION": "maybe"}, want: `invalid ENABLE_CODE_EVALUATION "maybe"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := resolveSettings(newFlagSet(t), envMap(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSettings_LogLevelEnablesVerbose(t *testing.T) {
	t.Parallel()

	s, err := resolveSettings(newFlagSet(t), envMap(map[string]string{"LOG_LEVEL": "DEBUG"}))
	require.NoError(t, err)
	assert.True(t, s.Verbose)
}

func TestNewLLM_AnthropicRequiresKey(t *testing.T) {
	t.Parallel()

	s := defaultSettings()
	require.NoError(t, s.Validate())
	_, err := newLLM(s)
	require.EqualError(t, err, "ANTHROPIC_API_KEY is required for the anthropic llm")

	s.LLM = LLMOllama
	llm, err := newLLM(s)
	require.NoError(t, err)
	assert.NotNil(t, llm)
}

func TestWriteColumnSummary(t *testing.T) {
	t.Parallel()

	ds, err := dataset.ReadCSV(bytes.NewBufferString("Region,Sales\nWest,10\nEast,\nWest,5\n"), dataset.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	writeColumnSummary(&buf, ds)
	out := buf.String()
	assert.Contains(t, out, "Rows: 3")
	assert.Contains(t, out, "Region")
	assert.Contains(t, out, "float64")
	assert.Contains(t, out, "Distinct")
}
