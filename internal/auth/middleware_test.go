package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPublic(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/healthz", true},
		{http.MethodGet, "/metrics", true},
		{http.MethodPost, "/v1/internal/sweeps", true},
		{http.MethodOptions, "/v1/timers", true},
		{http.MethodPost, "/v1/timers", false},
		{http.MethodGet, "/v1/time-entries", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, isPublic(httptest.NewRequest(tc.method, tc.path, nil)), "%s %s", tc.method, tc.path)
	}
}

func TestScopes(t *testing.T) {
	reader := &Claims{Scopes: map[string]struct{}{ScopeTimersRead: {}}}
	writer := &Claims{Scopes: map[string]struct{}{ScopeTimersWrite: {}}}

	require.True(t, CanRead(reader))
	require.False(t, CanWrite(reader))
	require.True(t, CanRead(writer))
	require.True(t, CanWrite(writer))
	require.False(t, CanRead(nil))
}
