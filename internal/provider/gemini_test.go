package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestPrependsSyntheticUserWhenFirstTurnIsModel(t *testing.T) {
	p := NewGemini("gemini", "gemini-2.0-flash", "key", 0.5)

	// After a context fold, the surviving history can legitimately start on
	// an assistant turn (Gemini's "model" role) with no preceding user turn.
	messages := []Message{
		{Role: "assistant", Content: "continuing from where we left off"},
		{Role: "user", Content: "what's next?"},
	}

	req, err := p.buildRequest(messages, nil)
	require.NoError(t, err)
	require.NotEmpty(t, req.Contents)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role)
}

func TestBuildRequestLeavesUserFirstTurnUnchanged(t *testing.T) {
	p := NewGemini("gemini", "gemini-2.0-flash", "key", 0.5)

	messages := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	req, err := p.buildRequest(messages, nil)
	require.NoError(t, err)
	require.Len(t, req.Contents, 2)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)
}

func TestBuildRequestHandlesEmptyContents(t *testing.T) {
	p := NewGemini("gemini", "gemini-2.0-flash", "key", 0.5)

	req, err := p.buildRequest(nil, nil)
	require.NoError(t, err)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "user", req.Contents[0].Role)
}
