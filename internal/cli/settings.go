package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	LLMAnthropic = "anthropic"
	LLMOllama    = "ollama"

	defaultAnthropicModel  = "claude-sonnet-4-5"
	defaultOllamaModel     = "llama3.1"
	defaultOllamaURL       = "http://localhost:11434"
	defaultDataset         = "data/sales.csv"
	defaultDateColumn      = "Order Date"
	defaultEngine          = "lua"
	defaultPort            = "8000"
	defaultMaxOutputTokens = 4096
)

// Settings is the process configuration. Values come from, in increasing order of
// precedence: defaults, the --config YAML file, the environment, explicit flags.
type Settings struct {
	LLM             string        `yaml:"llm"`
	Model           string        `yaml:"model"`
	AnthropicAPIKey string        `yaml:"-"`
	OllamaURL       string        `yaml:"ollama_url"`
	MaxOutputTokens int64         `yaml:"max_output_tokens"`
	Dataset         string        `yaml:"dataset"`
	DateColumn      string        `yaml:"date_column"`
	Engine          string        `yaml:"engine"`
	ExecTimeout     time.Duration `yaml:"exec_timeout"`

	EnableCodeEvaluation bool `yaml:"enable_code_evaluation"`
	Regenerate           bool `yaml:"regenerate"`
	EvaluateTool         bool `yaml:"evaluate_tool"`

	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	SlackBotToken string `yaml:"-"`
	SlackChannel  string `yaml:"slack_channel"`

	Verbose bool `yaml:"verbose"`
}

func defaultSettings() *Settings {
	return &Settings{
		LLM:             LLMAnthropic,
		OllamaURL:       defaultOllamaURL,
		MaxOutputTokens: defaultMaxOutputTokens,
		Dataset:         defaultDataset,
		DateColumn:      defaultDateColumn,
		Engine:          defaultEngine,
		Port:            defaultPort,
	}
}

// loadSettingsFile overlays the YAML file at path onto s. An empty path is a no-op.
func (s *Settings) loadSettingsFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto s.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
		return nil
	}

	str("ANALYST_LLM", &s.LLM)
	str("ANALYST_MODEL", &s.Model)
	str("ANTHROPIC_API_KEY", &s.AnthropicAPIKey)
	str("OLLAMA_URL", &s.OllamaURL)
	str("ANALYST_DATASET", &s.Dataset)
	str("ANALYST_DATE_COLUMN", &s.DateColumn)
	str("ANALYST_ENGINE", &s.Engine)
	str("PORT", &s.Port)
	str("SLACK_BOT_TOKEN", &s.SlackBotToken)
	str("SLACK_CHANNEL", &s.SlackChannel)

	if err := boolean("ENABLE_CODE_EVALUATION", &s.EnableCodeEvaluation); err != nil {
		return err
	}
	if err := boolean("ANALYST_REGENERATE", &s.Regenerate); err != nil {
		return err
	}
	if v, ok := lookup("LOG_LEVEL"); ok && strings.EqualFold(v, "debug") {
		s.Verbose = true
	}
	return nil
}

// applyFlags overlays flags that were set explicitly on the command line.
func (s *Settings) applyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "verbose":
			s.Verbose, err = fs.GetBool(f.Name)
		case "dataset":
			s.Dataset, err = fs.GetString(f.Name)
		case "engine":
			s.Engine, err = fs.GetString(f.Name)
		case "llm":
			s.LLM, err = fs.GetString(f.Name)
		case "model":
			s.Model, err = fs.GetString(f.Name)
		case "evaluate":
			s.EnableCodeEvaluation, err = fs.GetBool(f.Name)
		case "regenerate":
			s.Regenerate, err = fs.GetBool(f.Name)
		case "port":
			s.Port, err = fs.GetString(f.Name)
		}
		if err != nil {
			err = fmt.Errorf("failed to get %s flag: %w", f.Name, err)
		}
	})
	return err
}

func (s *Settings) Validate() error {
	s.LLM = strings.ToLower(s.LLM)
	switch s.LLM {
	case LLMAnthropic:
		if s.Model == "" {
			s.Model = defaultAnthropicModel
		}
	case LLMOllama:
		if s.Model == "" {
			s.Model = defaultOllamaModel
		}
		if s.OllamaURL == "" {
			return errors.New("ollama url is required")
		}
	default:
		return fmt.Errorf("unknown llm %q (want %s or %s)", s.LLM, LLMAnthropic, LLMOllama)
	}
	if s.MaxOutputTokens <= 0 {
		return errors.New("max output tokens must be greater than 0")
	}
	if s.Regenerate && !s.EnableCodeEvaluation {
		return errors.New("regeneration requires code evaluation to be enabled")
	}
	if (s.SlackBotToken == "") != (s.SlackChannel == "") {
		return errors.New("SLACK_BOT_TOKEN and SLACK_CHANNEL must be set together")
	}
	return nil
}

// resolveSettings builds the settings for a command run.
func resolveSettings(fs *pflag.FlagSet, lookup func(string) (string, bool)) (*Settings, error) {
	s := defaultSettings()
	path, err := fs.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if err := s.loadSettingsFile(path); err != nil {
		return nil, err
	}
	if err := s.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := s.applyFlags(fs); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
