package contextmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftloop/agentkernel/internal/kernel"
)

func longMessage(role kernel.Role, n int) kernel.Message {
	content := ""
	for len(content) < n {
		content += "the quick brown fox jumps over the lazy dog. "
	}
	return kernel.Message{Role: role, Content: content}
}

func TestPrepareUnderBudgetIsUnchanged(t *testing.T) {
	m := New("gpt-4o-mini", 10_000, 500, 10)
	messages := []kernel.Message{
		{Role: kernel.RoleSystem, Content: "you are a helpful agent"},
		{Role: kernel.RoleUser, Content: "hello"},
	}
	out, warn, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, messages, out)
	assert.Equal(t, LevelNone, warn.Level)
}

func TestPrepareFoldsOverBudget(t *testing.T) {
	m := New("gpt-4o-mini", 2_000, 100, 2)
	var messages []kernel.Message
	messages = append(messages, kernel.Message{Role: kernel.RoleSystem, Content: "system prompt"})
	for i := 0; i < 20; i++ {
		messages = append(messages, longMessage(kernel.RoleUser, 500))
	}

	out, _, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)
	assert.Less(t, len(out), len(messages))

	foundSummary := false
	for _, msg := range out {
		if msg.Summary {
			foundSummary = true
		}
	}
	assert.True(t, foundSummary, "expected a synthesized summary message")
}

func TestPrepareIsIdempotent(t *testing.T) {
	m := New("gpt-4o-mini", 2_000, 100, 2)
	var messages []kernel.Message
	messages = append(messages, kernel.Message{Role: kernel.RoleSystem, Content: "system prompt"})
	for i := 0; i < 20; i++ {
		messages = append(messages, longMessage(kernel.RoleUser, 500))
	}

	once, _, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)

	twice, _, err := m.Prepare(context.Background(), once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestPrepareNeverSplitsToolCallPair(t *testing.T) {
	m := New("gpt-4o-mini", 900, 50, 1)
	messages := []kernel.Message{
		{Role: kernel.RoleSystem, Content: "system"},
		longMessage(kernel.RoleUser, 400),
		{Role: kernel.RoleAssistant, Content: "calling a tool", ToolCalls: []kernel.ToolCall{{ID: "t1", Name: "Shell"}}},
		{Role: kernel.RoleTool, Content: longMessage(kernel.RoleTool, 400).Content, ToolCallID: "t1"},
		longMessage(kernel.RoleUser, 400),
	}

	out, _, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)

	for i, msg := range out {
		if msg.Role == kernel.RoleTool {
			require.Greater(t, i, 0)
			prev := out[i-1]
			assert.True(t, prev.Role == kernel.RoleAssistant || prev.Role == kernel.RoleTool || prev.Summary,
				"tool message must not be preceded by an unrelated message after folding")
		}
	}
}

func TestPartitionKeepsToolCallPairAtBoundary(t *testing.T) {
	m := New("gpt-4o-mini", 1000, 0, 1)
	messages := []kernel.Message{
		{Role: kernel.RoleSystem, Content: "system"},
		{Role: kernel.RoleUser, Content: "hello"},
		{Role: kernel.RoleAssistant, Content: "calling a tool", ToolCalls: []kernel.ToolCall{{ID: "t1", Name: "Shell"}}},
		{Role: kernel.RoleTool, Content: "tool output", ToolCallID: "t1"},
	}

	kept, foldable := m.partition(messages)

	assert.Equal(t, []kernel.Message{messages[1]}, foldable, "the pairing boundary must not split off a bare Tool message")

	var sawAssistant, sawTool bool
	for _, msg := range kept {
		if msg.Role == kernel.RoleAssistant {
			sawAssistant = true
		}
		if msg.Role == kernel.RoleTool {
			sawTool = true
		}
	}
	assert.True(t, sawAssistant, "kept set must include the Assistant that issued the tool call")
	assert.True(t, sawTool, "kept set must include the Tool result answering it")
}

func TestPrepareInjectsScratchpadAsTerminalSystemMessage(t *testing.T) {
	m := New("gpt-4o-mini", 10_000, 500, 10)
	m.ScratchpadText = func() string { return "1. write tests\n2. update docs" }
	messages := []kernel.Message{
		{Role: kernel.RoleSystem, Content: "you are a helpful agent"},
		{Role: kernel.RoleUser, Content: "hello"},
	}

	out, _, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)
	require.Len(t, out, 3)

	last := out[len(out)-1]
	assert.Equal(t, kernel.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "1. write tests")
	assert.True(t, strings.HasPrefix(last.Content, scratchpadTag))
}

func TestPrepareRefreshesScratchpadWithoutDuplicating(t *testing.T) {
	m := New("gpt-4o-mini", 10_000, 500, 10)
	plan := "step one"
	m.ScratchpadText = func() string { return plan }
	messages := []kernel.Message{
		{Role: kernel.RoleSystem, Content: "you are a helpful agent"},
		{Role: kernel.RoleUser, Content: "hello"},
	}

	once, _, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)

	plan = "step two, now further along"
	twice, _, err := m.Prepare(context.Background(), once)
	require.NoError(t, err)

	require.Len(t, twice, len(once))
	assert.Contains(t, twice[len(twice)-1].Content, "step two, now further along")
	assert.NotContains(t, twice[len(twice)-1].Content, "step one")
}

func TestPrepareDropsScratchpadWhenTextBecomesEmpty(t *testing.T) {
	m := New("gpt-4o-mini", 10_000, 500, 10)
	m.ScratchpadText = func() string { return "something to do" }
	messages := []kernel.Message{
		{Role: kernel.RoleSystem, Content: "you are a helpful agent"},
		{Role: kernel.RoleUser, Content: "hello"},
	}
	withPlan, _, err := m.Prepare(context.Background(), messages)
	require.NoError(t, err)

	m.ScratchpadText = func() string { return "" }
	withoutPlan, _, err := m.Prepare(context.Background(), withPlan)
	require.NoError(t, err)

	assert.Equal(t, messages, withoutPlan)
}

func TestWarningThresholds(t *testing.T) {
	m := New("gpt-4o-mini", 1000, 0, 50)
	assert.Equal(t, LevelNone, m.warningFor(100).Level)
	assert.Equal(t, LevelWarn, m.warningFor(800).Level)
	assert.Equal(t, LevelCritical, m.warningFor(960).Level)
}
