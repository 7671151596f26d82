package evaluator

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

type rulesConfig struct {
	Dialects map[string]*DialectRules `yaml:"dialects"`
}

// DialectRules are the heuristics and messages used for one sandbox dialect.
type DialectRules struct {
	NoResult string           `yaml:"no_result"`
	Probes   map[string]Probe `yaml:"probes"`
	// EmptyKeepsColumns makes the empty dataset keep the live columns with no rows.
	EmptyKeepsColumns bool   `yaml:"empty_keeps_columns"`
	Rules             []Rule `yaml:"rules"`
	ColumnPattern     string `yaml:"column_pattern"`
	GuardTemplate     string `yaml:"guard_template"`

	columns *regexp.Regexp
	guard   *template.Template
}

type Probe struct {
	Weakness   string `yaml:"weakness"`
	Suggestion string `yaml:"suggestion"`
}

// Rule matches when every group has at least one pattern present in the code.
type Rule struct {
	Name        string     `yaml:"name"`
	Points      int        `yaml:"points"`
	Strength    string     `yaml:"strength"`
	Suggestion  string     `yaml:"suggestion"`
	SuggestWhen []string   `yaml:"suggest_when"`
	IgnoreCase  bool       `yaml:"ignore_case"`
	Match       [][]string `yaml:"match"`
}

func (r Rule) Matches(code string) bool {
	if r.IgnoreCase {
		code = strings.ToLower(code)
	}
	for _, group := range r.Match {
		if !containsAny(code, group, r.IgnoreCase) {
			return false
		}
	}
	return len(r.Match) > 0
}

// shouldSuggest reports whether the suggestion applies to code that failed the rule.
func (r Rule) shouldSuggest(code string) bool {
	if r.Suggestion == "" {
		return false
	}
	return len(r.SuggestWhen) == 0 || containsAny(code, r.SuggestWhen, false)
}

func containsAny(s string, patterns []string, lower bool) bool {
	for _, p := range patterns {
		if lower {
			p = strings.ToLower(p)
		}
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// LoadRules parses a rules document.
func LoadRules(data []byte) (map[string]*DialectRules, error) {
	var cfg rulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for name, d := range cfg.Dialects {
		for i := range d.Rules {
			if d.Rules[i].Points == 0 {
				d.Rules[i].Points = 10
			}
		}
		if d.ColumnPattern != "" {
			re, err := regexp.Compile(d.ColumnPattern)
			if err != nil {
				return nil, fmt.Errorf("invalid column pattern for %s: %w", name, err)
			}
			d.columns = re
		}
		if d.GuardTemplate != "" {
			tmpl, err := template.New(name).Parse(d.GuardTemplate)
			if err != nil {
				return nil, fmt.Errorf("invalid guard template for %s: %w", name, err)
			}
			d.guard = tmpl
		}
	}
	return cfg.Dialects, nil
}

// DefaultRules returns the embedded rules for a dialect.
func DefaultRules(dialect string) (*DialectRules, error) {
	all, err := LoadRules(rulesYAML)
	if err != nil {
		return nil, err
	}
	d, ok := all[dialect]
	if !ok {
		return nil, fmt.Errorf("no evaluation rules for dialect %q", dialect)
	}
	return d, nil
}

// referencedColumns returns column names the snippet indexes, in first-seen order.
func (d *DialectRules) referencedColumns(code string) []string {
	if d.columns == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range d.columns.FindAllStringSubmatch(code, -1) {
		for _, name := range m[1:] {
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// improve wraps code in the dialect's guard template, or returns "" when the
// dialect has none.
func (d *DialectRules) improve(code string) (string, error) {
	if d.guard == nil {
		return "", nil
	}
	var body []string
	for _, line := range strings.Split(strings.TrimSpace(code), "\n") {
		body = append(body, "  "+line)
	}
	var sb strings.Builder
	err := d.guard.Execute(&sb, struct {
		Columns []string
		Body    string
	}{
		Columns: d.referencedColumns(code),
		Body:    strings.Join(body, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render guard: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
