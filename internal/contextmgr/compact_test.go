package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftloop/agentkernel/internal/durablestore"
	"github.com/riftloop/agentkernel/internal/kernel"
)

func TestCompactLargeToolResultsArchivesAndStubs(t *testing.T) {
	store, err := durablestore.Open(t.TempDir())
	require.NoError(t, err)

	big := strings.Repeat("x", 50_000)
	messages := []kernel.Message{
		{Role: kernel.RoleUser, Content: "run a build"},
		{Role: kernel.RoleTool, Content: big, ToolCallID: "call_1"},
		{Role: kernel.RoleTool, Content: big, ToolCallID: "call_2"},
	}

	out := CompactLargeToolResults(messages, store, 70_000)

	assert.Contains(t, out[1].Content, "call_1", "oldest tool message is archived first")
	assert.Contains(t, out[1].Content, "restore_context")
	assert.Equal(t, big, out[2].Content, "most recent tool message stays expanded")

	archived, ok := store.Get("call_1")
	assert.True(t, ok)
	assert.Equal(t, big, archived)
}

func TestCompactLargeToolResultsArchivesOldestFirstAcrossMany(t *testing.T) {
	store, err := durablestore.Open(t.TempDir())
	require.NoError(t, err)

	chunk := strings.Repeat("x", 10_000)
	messages := make([]kernel.Message, 8)
	for i := range messages {
		messages[i] = kernel.Message{Role: kernel.RoleTool, Content: chunk, ToolCallID: callID(i)}
	}

	out := CompactLargeToolResults(messages, store, 70_000)

	// Total is 80k against a 70k threshold: only the single oldest message
	// (10k) needs to be archived to fall within budget.
	assert.Contains(t, out[0].Content, "archived")
	for i := 1; i < len(out); i++ {
		assert.Equal(t, chunk, out[i].Content, "message %d should remain expanded", i)
	}
}

func callID(i int) string {
	return "call_" + string(rune('a'+i))
}

func TestCompactLargeToolResultsLeavesSmallHistoryAlone(t *testing.T) {
	store, err := durablestore.Open(t.TempDir())
	require.NoError(t, err)

	messages := []kernel.Message{
		{Role: kernel.RoleTool, Content: "small", ToolCallID: "call_1"},
	}
	out := CompactLargeToolResults(messages, store, 70_000)
	assert.Equal(t, messages, out)
}
