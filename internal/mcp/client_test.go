package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientWithTimeoutDefaultsWhenNonPositive(t *testing.T) {
	c := NewClientWithTimeout("http://example.invalid", 0)
	assert.Equal(t, defaultCallTimeout, c.httpClient.Timeout)
}

func TestNewClientWithTimeoutUsesGivenValue(t *testing.T) {
	c := NewClientWithTimeout("http://example.invalid", 5*time.Second)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestClientListToolsAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tools/list", req.Method)

		resp, err := NewResponse(req.ID, ListToolsResult{Tools: []Tool{{Name: "ping"}}})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tools, err := c.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ping", tools[0].Name)
}

func TestClientCallToolPropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := NewErrorResponse(req.ID, ErrorCodeInternalError, "boom")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.CallTool(t.Context(), "ping", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "boom")
}
