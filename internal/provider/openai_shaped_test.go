package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainStream(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	for range ch {
	}
}

func TestChatStreamAddsSearchParametersForGrokTimeSensitiveQuery(t *testing.T) {
	var captured openAIShapedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenAIShaped(ShapeOptions{Name: "grok", Endpoint: srv.URL, Model: "grok-4"})
	ch, err := p.ChatStream(context.Background(), []Message{
		{Role: "user", Content: "what's the latest news today?"},
	}, nil)
	require.NoError(t, err)
	drainStream(t, ch)

	require.NotNil(t, captured.SearchParameters)
	assert.Equal(t, "auto", captured.SearchParameters.Mode)
}

func TestChatStreamOmitsSearchParametersWhenNotTimeSensitive(t *testing.T) {
	var captured openAIShapedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenAIShaped(ShapeOptions{Name: "grok", Endpoint: srv.URL, Model: "grok-4"})
	ch, err := p.ChatStream(context.Background(), []Message{
		{Role: "user", Content: "explain how quicksort works"},
	}, nil)
	require.NoError(t, err)
	drainStream(t, ch)

	assert.Nil(t, captured.SearchParameters)
}

func TestChatStreamOmitsSearchParametersForNonGrokModel(t *testing.T) {
	var captured openAIShapedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenAIShaped(ShapeOptions{Name: "local", Endpoint: srv.URL, Model: "llama-3"})
	ch, err := p.ChatStream(context.Background(), []Message{
		{Role: "user", Content: "what happened today"},
	}, nil)
	require.NoError(t, err)
	drainStream(t, ch)

	assert.Nil(t, captured.SearchParameters)
}

func TestChatStreamElideToolsRewritesToolMessagesToUser(t *testing.T) {
	var captured openAIShapedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenAIShaped(ShapeOptions{Name: "local", Endpoint: srv.URL, Model: "llama-3", ElideTools: true})
	ch, err := p.ChatStream(context.Background(), []Message{
		{Role: "user", Content: "list files"},
		{Role: "tool", Content: "file1\nfile2", ToolCallID: "call_1"},
	}, []Tool{{Name: "Shell", Description: "run a command"}})
	require.NoError(t, err)
	drainStream(t, ch)

	assert.Empty(t, captured.Tools, "tools must be elided entirely")

	var foundRewritten bool
	for _, m := range captured.Messages {
		if m.Role == "user" && m.Content == "[Tool Result] file1\nfile2" {
			foundRewritten = true
		}
		assert.NotEqual(t, "tool", m.Role, "no Tool-role message should reach an elide-tools backend")
	}
	assert.True(t, foundRewritten, "expected the tool result folded into a prefixed user message")
}
