// Package prompts embeds the instructions given to the intent gate and the
// analytics agent.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.md
var PromptsFS embed.FS

// Prompts holds every instruction loaded from the embedded files.
type Prompts struct {
	Intent       string // classification rubric; answers ALLOWED or a rejection
	Analytics    string // analytics agent workflow, with the code guide injected
	Continuation string // forced request for a final answer
}

// Load reads the prompts, injecting the code guide for the given sandbox dialect
// ("lua" or "sql") into the analytics instruction.
func Load(dialect string) (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Intent, err = loadPrompt("INTENT.md"); err != nil {
		return nil, fmt.Errorf("failed to load INTENT: %w", err)
	}
	if p.Analytics, err = loadPrompt("ANALYTICS.md"); err != nil {
		return nil, fmt.Errorf("failed to load ANALYTICS: %w", err)
	}
	if p.Continuation, err = loadPrompt("CONTINUATION.md"); err != nil {
		return nil, fmt.Errorf("failed to load CONTINUATION: %w", err)
	}

	guideFile := "CODE_LUA.md"
	if dialect == "sql" {
		guideFile = "CODE_SQL.md"
	}
	guide, err := loadPrompt(guideFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load code guide: %w", err)
	}
	p.Analytics = strings.Replace(p.Analytics, "{{CODE_GUIDE}}", guide, 1)

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
