package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRules_DefaultRules(t *testing.T) {
	t.Parallel()

	for _, dialect := range []string{"lua", "sql"} {
		rules, err := DefaultRules(dialect)
		require.NoError(t, err, dialect)
		assert.NotEmpty(t, rules.NoResult)
		assert.Len(t, rules.Probes, 3)
		for _, r := range rules.Rules {
			assert.Equal(t, 10, r.Points, r.Name)
		}
	}

	_, err := DefaultRules("cobol")
	require.EqualError(t, err, `no evaluation rules for dialect "cobol"`)
}

func TestRules_Matches(t *testing.T) {
	t.Parallel()

	rules, err := DefaultRules("lua")
	require.NoError(t, err)
	byName := map[string]Rule{}
	for _, r := range rules.Rules {
		byName[r.Name] = r
	}

	tests := []struct {
		rule string
		code string
		want bool
	}{
		{"aggregation", "result = df:groupby('Region')['Sales']:sum()", true},
		{"aggregation", "result = df['Sales']", false},
		{"validation", "IF #df > 0 then result = 1 end", true},
		{"validation", "if x then result = 1 end", false},
		{"column_check", "if df:has('Sales') then result = 1 end", true},
		{"column_check", "result = df['Sales']", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, byName[tt.rule].Matches(tt.code), "%s: %s", tt.rule, tt.code)
	}
}

func TestRules_Matches_SQL(t *testing.T) {
	t.Parallel()

	rules, err := DefaultRules("sql")
	require.NoError(t, err)
	assert.True(t, rules.EmptyKeepsColumns)
	byName := map[string]Rule{}
	for _, r := range rules.Rules {
		byName[r.Name] = r
	}
	require.ElementsMatch(t, []string{"aggregation", "validation", "column_check"}, keys(byName))

	tests := []struct {
		rule string
		code string
		want bool
	}{
		{"aggregation", "SELECT avg(Sales) FROM df", true},
		{"aggregation", "SELECT Sales FROM df LIMIT 5", false},
		{"validation", "SELECT CASE WHEN (SELECT COUNT(*) FROM df) = 0 THEN 0 ELSE 1 END", true},
		{"validation", "SELECT 1 WHERE EXISTS (SELECT 1 FROM df)", true},
		{"validation", "SELECT coalesce(sum(Sales), 0) FROM df", false},
		{"validation", "SELECT count(*) FROM df GROUP BY Category", false},
		{"column_check", "SELECT count(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE column_name = 'Sales'", true},
		{"column_check", "SELECT sum(Sales) FROM df WHERE Sales IS NOT NULL", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, byName[tt.rule].Matches(tt.code), "%s: %s", tt.rule, tt.code)
	}

	lua, err := DefaultRules("lua")
	require.NoError(t, err)
	assert.False(t, lua.EmptyKeepsColumns)
}

func keys(m map[string]Rule) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestRules_ReferencedColumns(t *testing.T) {
	t.Parallel()

	rules, err := DefaultRules("lua")
	require.NoError(t, err)

	code := `local f = df:filter('Region', '==', 'West')
result = f['Sales']:sum() + df["Sales"]:mean() + df:groupby('Segment'):size()['Consumer']`
	assert.Equal(t, []string{"Region", "Sales", "Segment"}, rules.referencedColumns(code))
}

func TestRules_Improve_SQLHasNoTemplate(t *testing.T) {
	t.Parallel()

	rules, err := DefaultRules("sql")
	require.NoError(t, err)
	out, err := rules.improve("SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRules_LoadRules_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := LoadRules([]byte("dialects:\n  lua:\n    column_pattern: \"(\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column pattern for lua")
}
