package streamfold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftloop/agentkernel/internal/kernel"
)

func TestFoldAccumulatesContent(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderContentDelta, Content: "Hello, "})
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderContentDelta, Content: "world!"})

	msg := acc.Finalize()
	assert.Equal(t, "Hello, world!", msg.Content)
	assert.Empty(t, msg.ToolCalls)
}

func TestFoldAssemblesToolCallByIndex(t *testing.T) {
	acc := NewAccumulator()
	newCall := acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderToolCallBegin, ToolCallIndex: 0, ToolCallID: "call_1", ToolCallName: "Shell"})
	assert.True(t, newCall)

	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"command":`})
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `"ls"}`})

	msg := acc.Finalize()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "Shell", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(msg.ToolCalls[0].Arguments))
}

func TestSanitizeStripsChannelMarkers(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderContentDelta, Content: "<|channel|>analysis<|message|>visible text"})
	assert.Equal(t, "analysisvisible text", acc.DisplayContent())
}

func TestFinalizeExtractsCommentaryToolCall(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderContentDelta, Content: `Let me check. commentary to=Shell {"command":"ls"} ok`})

	msg := acc.Finalize()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "Shell", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(msg.ToolCalls[0].Arguments))
	assert.NotContains(t, msg.Content, "commentary to=")
}

func TestFinalizePrefersNativeToolCallsOverCommentary(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderToolCallBegin, ToolCallIndex: 0, ToolCallID: "call_1", ToolCallName: "Shell"})
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderContentDelta, Content: "commentary to=Read {}"})

	msg := acc.Finalize()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "Shell", msg.ToolCalls[0].Name)
}

func TestFoldTracksUsageMax(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderUsage, InputTokens: 10, OutputTokens: 5})
	acc.Fold(kernel.ProviderEvent{Kind: kernel.ProviderUsage, InputTokens: 8, OutputTokens: 12})

	msg := acc.Finalize()
	assert.Equal(t, 10, msg.InputTokens)
	assert.Equal(t, 12, msg.OutputTokens)
}
