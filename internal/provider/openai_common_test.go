package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTimeSensitive(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"what's the latest news", true},
		{"what happened today", true},
		{"who won the election in 2024", true},
		{"explain how quicksort works", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, isTimeSensitive(c.text), "text=%q", c.text)
	}
}

func TestIsGrokModel(t *testing.T) {
	assert.True(t, isGrokModel("grok-4"))
	assert.True(t, isGrokModel("Grok-Beta"))
	assert.False(t, isGrokModel("gpt-4o"))
	assert.False(t, isGrokModel("llama-3"))
}

func TestRewriteToolMessagesAsUser(t *testing.T) {
	in := []Message{
		{Role: "user", Content: "run ls"},
		{Role: "tool", Content: "a.go\nb.go", ToolCallID: "call_1"},
		{Role: "assistant", Content: "done"},
	}
	out := rewriteToolMessagesAsUser(in)

	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "[Tool Result] a.go\nb.go", out[1].Content)
	assert.Empty(t, out[1].ToolCallID)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[2], out[2])
}

func TestLastUserContent(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	assert.Equal(t, "second", lastUserContent(messages))
	assert.Equal(t, "", lastUserContent(nil))
}
