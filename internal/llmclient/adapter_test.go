package llmclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/provider"
)

func drainEvents(t *testing.T, ch <-chan kernel.ProviderEvent) []kernel.ProviderEvent {
	t.Helper()
	var out []kernel.ProviderEvent
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}

func TestChatStreamConvertsContentDelta(t *testing.T) {
	a := New(provider.NewMock("mock", "hello"))
	ch, err := a.ChatStream(context.Background(), []kernel.Message{{Role: kernel.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	events := drainEvents(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, kernel.ProviderContentDelta, events[0].Kind)
	assert.Equal(t, "hello", events[0].Content)
	assert.Equal(t, kernel.ProviderDone, events[len(events)-1].Kind)
}

func TestChatStreamConvertsToolCalls(t *testing.T) {
	p := provider.NewMock("mock", "").WithToolCalls([]provider.ToolCall{
		{ID: "call_1", Name: "Shell", Arguments: json.RawMessage(`{"command":"ls"}`)},
	})
	a := New(p)

	ch, err := a.ChatStream(context.Background(), nil, []kernel.ToolDescriptor{{Name: "Shell"}})
	require.NoError(t, err)

	events := drainEvents(t, ch)
	var begin, delta bool
	for _, evt := range events {
		switch evt.Kind {
		case kernel.ProviderToolCallBegin:
			begin = true
			assert.Equal(t, "call_1", evt.ToolCallID)
			assert.Equal(t, "Shell", evt.ToolCallName)
		case kernel.ProviderToolCallDelta:
			delta = true
			assert.JSONEq(t, `{"command":"ls"}`, evt.ToolCallArgs)
		}
	}
	assert.True(t, begin)
	assert.True(t, delta)
}

func TestChatStreamPropagatesStreamError(t *testing.T) {
	a := New(provider.NewMock("mock", "").WithStreamError(assert.AnError))
	_, err := a.ChatStream(context.Background(), nil, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNameDelegatesToProvider(t *testing.T) {
	a := New(provider.NewMock("my-provider", ""))
	assert.Equal(t, "my-provider", a.Name())
}

func TestToProviderMessagesPreservesRoleAndToolCalls(t *testing.T) {
	messages := []kernel.Message{
		{
			Role:    kernel.RoleAssistant,
			Content: "working on it",
			ToolCalls: []kernel.ToolCall{
				{ID: "call_1", Name: "Shell", Arguments: json.RawMessage(`{}`)},
			},
		},
	}
	out := toProviderMessages(messages)
	require.Len(t, out, 1)
	assert.Equal(t, "assistant", out[0].Role)
	require.Len(t, out[0].ToolCalls, 1)
	assert.Equal(t, "call_1", out[0].ToolCalls[0].ID)
}
