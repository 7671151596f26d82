package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers_CheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no origin header", allowed: []string{"http://localhost:3000"}, origin: "", want: true},
		{name: "no allow list", allowed: nil, origin: "http://anything", want: true},
		{name: "listed", allowed: []string{"http://localhost:3000"}, origin: "http://localhost:3000", want: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://other", want: true},
		{name: "unlisted", allowed: []string{"http://localhost:3000"}, origin: "http://other", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := &Handlers{cfg: &Config{AllowedOrigins: tt.allowed}}
			r := httptest.NewRequest("GET", "/ws/chat", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(r))
		})
	}
}

func TestHandlers_QueryInt(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/?skip=5&limit=x", nil)
	v, err := queryInt(r, "skip", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = queryInt(r, "missing", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = queryInt(r, "limit", 10)
	require.Error(t, err)
}

func TestHandlers_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{})
	require.EqualError(t, err, "logger is required")
}
