package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/analyst/pkg/dataset"
	"github.com/malbeclabs/analyst/pkg/evaluator"
	"github.com/malbeclabs/analyst/pkg/sandbox"
)

const salesCSV = `Order ID,Customer Name,Category,Sales,Order Date
CA-1,Claire Gute,Furniture,100,08/11/2016
CA-2,Claire Gute,Furniture,200,08/11/2016
CA-3,Darrin Van Huff,Office Supplies,150,12/06/2016
US-4,Sean O'Donnell,Furniture,75,11/10/2015
US-5,Brosina Hoffman,Technology,300,09/06/2014
`

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func salesDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.ReadCSV(strings.NewReader(salesCSV), dataset.Options{DateColumns: []string{"Order Date"}})
	require.NoError(t, err)
	return ds
}

type fakeScorer struct {
	verdict *evaluator.Verdict
	err     error
}

func (f *fakeScorer) Score(ctx context.Context, code, query string) (*evaluator.Verdict, error) {
	return f.verdict, f.err
}

func newDataTools(t *testing.T, ds *dataset.Dataset, scorer evaluator.Scorer) *DataTools {
	t.Helper()
	engine, err := sandbox.NewLuaEngine(&sandbox.Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	dt, err := NewDataTools(&DataToolsConfig{Logger: testLogger(t), Dataset: ds, Engine: engine, Scorer: scorer})
	require.NoError(t, err)
	return dt
}

func TestDataTools_GetMetadata(t *testing.T) {
	t.Parallel()
	dt := newDataTools(t, salesDataset(t), nil)

	out := dt.GetMetadata()
	assert.True(t, strings.HasPrefix(out, "Head:\n"))
	assert.Contains(t, out, "\n\nDtypes:\n")
	assert.Contains(t, out, "Claire Gute")
	assert.Contains(t, out, "datetime64[ns]")
	assert.Equal(t, out, dt.GetMetadata())
}

func TestDataTools_GetMetadata_NoDataset(t *testing.T) {
	t.Parallel()
	dt := newDataTools(t, nil, nil)
	assert.Contains(t, dt.GetMetadata(), "no dataset is loaded")
}

func TestDataTools_GetUniqueValues(t *testing.T) {
	t.Parallel()
	dt := newDataTools(t, salesDataset(t), nil)

	want := "Unique values in 'Category' (3): Furniture, Office Supplies, Technology"
	assert.Equal(t, want, dt.GetUniqueValues("Category"))
	// served from cache the second time
	assert.Equal(t, want, dt.GetUniqueValues("Category"))
}

func TestDataTools_GetUniqueValues_UnknownColumn(t *testing.T) {
	t.Parallel()
	dt := newDataTools(t, salesDataset(t), nil)

	for _, column := range []string{"Revenue", "sales", ""} {
		out := dt.GetUniqueValues(column)
		assert.True(t, strings.HasPrefix(out, "Error:"), out)
		assert.Contains(t, out, "Available columns: Order ID, Customer Name, Category, Sales, Order Date")
	}
}

func TestDataTools_GetUniqueValues_Truncates(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("ID\n")
	for i := range 60 {
		fmt.Fprintf(&sb, "id-%02d\n", i)
	}
	ds, err := dataset.ReadCSV(strings.NewReader(sb.String()), dataset.Options{})
	require.NoError(t, err)
	dt := newDataTools(t, ds, nil)

	out := dt.GetUniqueValues("ID")
	assert.True(t, strings.HasPrefix(out, "Unique values in 'ID' (60): id-00, id-01"))
	assert.True(t, strings.HasSuffix(out, "id-49 ... and 10 more"))
}

func TestDataTools_ExecuteCode(t *testing.T) {
	t.Parallel()
	dt := newDataTools(t, salesDataset(t), nil)

	tests := []struct {
		name    string
		code    string
		want    string
		wantErr bool
	}{
		{
			name: "success",
			code: "result = df['Sales']:mean()",
			want: "Analysis result: 165.0\n\nUsing this result, write a clear natural-language summary for the user.",
		},
		{
			name:    "unbound result",
			code:    "local total = df['Sales']:sum()",
			want:    "The code ran successfully, but the variable 'result' was not defined. Rewrite the code so the final answer is stored in 'result'.",
			wantErr: true,
		},
		{
			name: "printed output",
			code: "print('rows', #df)\nresult = 1",
			want: "Output:\nrows\t5\n\nAnalysis result: 1.0\n\nUsing this result, write a clear natural-language summary for the user.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, isErr := dt.ExecuteCode(context.Background(), tt.code)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.wantErr, isErr)
		})
	}
}

func TestDataTools_ExecuteCode_ErrorsBecomeText(t *testing.T) {
	t.Parallel()
	dt := newDataTools(t, salesDataset(t), nil)

	tests := []struct {
		code string
		want string
	}{
		{code: "result = df['Revenue']:sum()", want: "column 'Revenue' not found"},
		{code: "result = df['Customer Name']:mean()", want: "non-numeric"},
		{code: "result = (", want: "Error executing code: "},
		{code: "error('custom failure')", want: "custom failure"},
	}
	for _, tt := range tests {
		out, isErr := dt.ExecuteCode(context.Background(), tt.code)
		assert.True(t, isErr, tt.code)
		assert.True(t, strings.HasPrefix(out, "Error executing code: "), out)
		assert.Contains(t, out, tt.want)
	}
}

func TestDataTools_ExecuteCode_DatasetUnchanged(t *testing.T) {
	t.Parallel()
	ds := salesDataset(t)
	dt := newDataTools(t, ds, nil)
	before := dt.GetMetadata()

	_, _ = dt.ExecuteCode(context.Background(), "df['Sales'] = nil\nresult = 1")
	_, _ = dt.ExecuteCode(context.Background(), "total = 5\nresult = total")
	out, isErr := dt.ExecuteCode(context.Background(), "result = total")
	assert.True(t, isErr)
	assert.Contains(t, out, "'result' was not defined")
	assert.Equal(t, before, dt.GetMetadata())
}

func TestDataTools_EvaluateCode(t *testing.T) {
	t.Parallel()

	verdict := &evaluator.Verdict{Score: 90, PassedExecution: true, PassedTests: "3/3", Action: evaluator.ActionApprove}
	dt := newDataTools(t, salesDataset(t), &fakeScorer{verdict: verdict})

	out, isErr := dt.EvaluateCode(context.Background(), "result = 1", "q")
	require.False(t, isErr)
	var got evaluator.Verdict
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 90, got.Score)
	assert.Equal(t, evaluator.ActionApprove, got.Action)

	failing := newDataTools(t, salesDataset(t), &fakeScorer{err: errors.New("pool closed")})
	out, isErr = failing.EvaluateCode(context.Background(), "result = 1", "q")
	assert.True(t, isErr)
	assert.Equal(t, "Error evaluating code: pool closed", out)
}

func TestDataTools_Tools(t *testing.T) {
	t.Parallel()

	names := func(tools []Tool) []string {
		var out []string
		for _, tool := range tools {
			out = append(out, tool.Name)
		}
		return out
	}
	assert.Equal(t, []string{"get_metadata", "get_unique_values", "execute_code"}, names(newDataTools(t, salesDataset(t), nil).Tools()))
	assert.Equal(t, []string{"get_metadata", "get_unique_values", "execute_code", "evaluate_code"},
		names(newDataTools(t, salesDataset(t), &fakeScorer{}).Tools()))
}

func TestDataTools_Tools_DeclareRequiredArguments(t *testing.T) {
	t.Parallel()

	want := map[string][]string{
		GetMetadataName:     nil,
		GetUniqueValuesName: {"column"},
		ExecuteCodeName:     {"code"},
		EvaluateCodeName:    {"code"},
	}
	dt := newDataTools(t, salesDataset(t), &fakeScorer{})
	for _, tool := range dt.Tools() {
		required, _ := tool.InputSchema["required"].([]string)
		assert.Equal(t, want[tool.Name], required, tool.Name)
	}

	r, err := NewRegistry(dt.Tools()...)
	require.NoError(t, err)
	out, isErr, err := r.CallToolText(context.Background(), ExecuteCodeName, map[string]any{})
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Contains(t, out, "code is required")
}
