package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 14, 7, 9, 123_456_789, time.FixedZone("BRT", -3*3600))
	assert.Equal(t, "2024-03-05T17:07:09.123Z", formatRFC3339Millis(ts))
}

func TestLogger_DropsEmptyStrings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Info("pipeline: done", "empty", "", "query", "total sales")

	out := buf.String()
	require.Contains(t, out, "pipeline: done")
	assert.Contains(t, out, "total sales")
	assert.NotContains(t, out, "empty=")
}

func TestLogger_VerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var quiet, verbose bytes.Buffer
	NewWithWriter(&quiet, false).Debug("hidden")
	NewWithWriter(&verbose, true).Debug("shown")

	assert.Empty(t, quiet.String())
	assert.Contains(t, verbose.String(), "shown")
}

func TestLogger_ParseLevel(t *testing.T) {
	t.Parallel()

	assert.True(t, ParseLevel("DEBUG"))
	assert.True(t, ParseLevel("debug"))
	assert.False(t, ParseLevel("INFO"))
	assert.False(t, ParseLevel("nonsense"))
}
