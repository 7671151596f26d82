package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/malbeclabs/analyst/pkg/dataset"
	"github.com/malbeclabs/analyst/pkg/evaluator"
	"github.com/malbeclabs/analyst/pkg/sandbox"
)

const (
	GetMetadataName     = "get_metadata"
	GetUniqueValuesName = "get_unique_values"
	ExecuteCodeName     = "execute_code"
	EvaluateCodeName    = "evaluate_code"

	metadataRows   = 5
	maxUniqueShown = 50

	resultSuffix = "Using this result, write a clear natural-language summary for the user."
	unboundMsg   = "The code ran successfully, but the variable 'result' was not defined. " +
		"Rewrite the code so the final answer is stored in 'result'."
)

type DataToolsConfig struct {
	Logger  *slog.Logger
	Dataset *dataset.Dataset
	Engine  sandbox.Engine
	// Scorer, when set, is exposed as the evaluate_code tool.
	Scorer evaluator.Scorer
}

func (cfg *DataToolsConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	return nil
}

// DataTools are the capabilities over the shared dataset. They never return Go
// errors for bad input; every failure is a message for the model.
type DataTools struct {
	log    *slog.Logger
	cfg    *DataToolsConfig
	unique *ristretto.Cache
}

func NewDataTools(cfg *DataToolsConfig) (*DataTools, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create unique values cache: %w", err)
	}
	return &DataTools{log: cfg.Logger, cfg: cfg, unique: cache}, nil
}

// GetMetadata returns the first rows and the column types as markdown tables.
func (t *DataTools) GetMetadata() string {
	ds := t.cfg.Dataset
	if ds == nil {
		return "Error reading metadata: no dataset is loaded"
	}
	return fmt.Sprintf("Head:\n%s\n\nDtypes:\n%s", ds.Markdown(metadataRows), ds.DTypesMarkdown())
}

// GetUniqueValues lists the distinct values of a column in first-seen order.
func (t *DataTools) GetUniqueValues(column string) string {
	ds := t.cfg.Dataset
	if ds == nil {
		return "Error: no dataset is loaded"
	}
	if cached, ok := t.unique.Get(column); ok {
		return cached.(string)
	}

	col, err := ds.Column(column)
	if err != nil {
		return fmt.Sprintf("Error: column '%s' not found. Available columns: %s", column, strings.Join(ds.ColumnNames(), ", "))
	}
	values := col.Unique()
	shown := values
	if len(shown) > maxUniqueShown {
		shown = shown[:maxUniqueShown]
	}
	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = dataset.FormatValue(v)
	}
	out := fmt.Sprintf("Unique values in '%s' (%d): %s", column, len(values), strings.Join(parts, ", "))
	if len(values) > maxUniqueShown {
		out += fmt.Sprintf(" ... and %d more", len(values)-maxUniqueShown)
	}

	t.unique.Set(column, out, 1)
	t.unique.Wait()
	return out
}

// ExecuteCode runs a snippet against a fresh scope bound to the dataset.
func (t *DataTools) ExecuteCode(ctx context.Context, code string) (string, bool) {
	ds := t.cfg.Dataset
	if ds == nil {
		ds = dataset.Empty()
	}
	res, err := t.cfg.Engine.Execute(ctx, code, ds)
	switch {
	case errors.Is(err, sandbox.ErrNoResult):
		t.log.Info("tools: code ran without binding result")
		return unboundMsg, true
	case err != nil:
		t.log.Info("tools: code execution failed", "error", err)
		return "Error executing code: " + err.Error(), true
	}
	out := fmt.Sprintf("Analysis result: %s\n\n%s", res.Text, resultSuffix)
	if res.Stdout != "" {
		out = fmt.Sprintf("Output:\n%s\n\n%s", strings.TrimRight(res.Stdout, "\n"), out)
	}
	return out, false
}

// EvaluateCode scores a snippet and returns the verdict as JSON.
func (t *DataTools) EvaluateCode(ctx context.Context, code, query string) (string, bool) {
	if t.cfg.Scorer == nil {
		return "Error: code evaluation is not enabled", true
	}
	v, err := t.cfg.Scorer.Score(ctx, code, query)
	if err != nil {
		return "Error evaluating code: " + err.Error(), true
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "Error evaluating code: " + err.Error(), true
	}
	return string(b), false
}

// Tools returns the data tools ready for registration.
func (t *DataTools) Tools() []Tool {
	out := []Tool{
		{
			Name: GetMetadataName,
			Description: "Returns the first rows and the column types of the dataset that is already loaded as df. " +
				"Call it first, before writing any code.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(ctx context.Context, args map[string]any) (string, bool, error) {
				return t.GetMetadata(), false, nil
			},
		},
		{
			Name: GetUniqueValuesName,
			Description: "Returns the distinct values of one column. Use it before filtering on a categorical " +
				"column so the filter uses exact spellings.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"column": map[string]any{"type": "string", "description": "Exact column name."},
				},
				"required": []string{"column"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, bool, error) {
				out := t.GetUniqueValues(args["column"].(string))
				return out, strings.HasPrefix(out, "Error"), nil
			},
		},
		{
			Name:        ExecuteCodeName,
			Description: t.executeDescription(),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{"type": "string", "description": "Code to run. Store the answer in result."},
				},
				"required": []string{"code"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, bool, error) {
				out, isErr := t.ExecuteCode(ctx, args["code"].(string))
				return out, isErr, nil
			},
		},
	}
	if t.cfg.Scorer != nil {
		out = append(out, Tool{
			Name:        EvaluateCodeName,
			Description: "Scores a snippet for correctness and robustness and returns the verdict as JSON.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":          map[string]any{"type": "string"},
					"query_context": map[string]any{"type": "string", "description": "The user's question."},
				},
				"required": []string{"code"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, bool, error) {
				query, _ := args["query_context"].(string)
				out, isErr := t.EvaluateCode(ctx, args["code"].(string), query)
				return out, isErr, nil
			},
		})
	}
	return out
}

func (t *DataTools) executeDescription() string {
	if t.cfg.Engine.Dialect() == sandbox.DialectSQL {
		return "Runs one DuckDB SQL query against the table df and returns its result set. " +
			"Example: SELECT Category, SUM(Sales) FROM df GROUP BY Category"
	}
	return "Runs a Lua snippet against the read-only dataset df. The snippet must store its answer " +
		"in the variable result. Example: result = df['Sales']:mean()"
}
