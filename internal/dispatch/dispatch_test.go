package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/lanequeue"
	"github.com/riftloop/agentkernel/internal/mcp"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *mcp.Proxy) {
	t.Helper()
	proxy := mcp.NewProxy(nil)
	lanes := lanequeue.New(4)
	d := New(proxy, lanes, nil, "sess-1", nil, []string{"Shell", "Edit"}, time.Second)
	return d, proxy
}

func TestExecuteRoutesToRegisteredHandler(t *testing.T) {
	d, proxy := newTestDispatcher(t)
	proxy.RegisterTool(mcp.Tool{Name: "Read"}, func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error) {
		return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "file contents"}}}, nil
	})

	result, err := d.Execute(context.Background(), kernel.ToolCall{ID: "call_1", Name: "Read"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "file contents", result.Content[0].Text)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "Read", result.Name)
	assert.False(t, result.IsError)
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result, err := d.Execute(context.Background(), kernel.ToolCall{ID: "call_1", Name: "Nope"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteMutatingCallsExcludeEachOther(t *testing.T) {
	d, proxy := newTestDispatcher(t)

	var mu sync.Mutex
	concurrent := 0
	maxConcurrent := 0
	proxy.RegisterTool(mcp.Tool{Name: "Shell"}, func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		mu.Lock()
		concurrent--
		mu.Unlock()
		return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ok"}}}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Execute(context.Background(), kernel.ToolCall{Name: "Shell"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxConcurrent, "mutating calls must never overlap within a lane")
}

func TestExecuteStreamingFallsBackToExecuteWithoutHandler(t *testing.T) {
	d, proxy := newTestDispatcher(t)
	proxy.RegisterTool(mcp.Tool{Name: "Shell"}, func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error) {
		return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ran"}}}, nil
	})

	result, err := d.ExecuteStreaming(context.Background(), kernel.ToolCall{Name: "Shell"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "ran", result.Content[0].Text)
}

func TestExecuteStreamingFallsBackWhenOnChunkIsNil(t *testing.T) {
	d, proxy := newTestDispatcher(t)
	sh := &fakeStreamingTool{}
	d.RegisterStreaming("Shell", sh)
	proxy.RegisterTool(mcp.Tool{Name: "Shell"}, func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error) {
		return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "ran"}}}, nil
	})

	_, err := d.ExecuteStreaming(context.Background(), kernel.ToolCall{Name: "Shell"}, nil)
	require.NoError(t, err)
	assert.Nil(t, sh.onOutput, "no streaming wiring should happen when onChunk is nil")
}

func TestExecuteStreamingWiresOnChunkThroughRegisteredHandler(t *testing.T) {
	d, proxy := newTestDispatcher(t)
	sh := &fakeStreamingTool{}
	d.RegisterStreaming("Shell", sh)
	proxy.RegisterTool(mcp.Tool{Name: "Shell"}, func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error) {
		sh.onOutput("partial output")
		return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "done"}}}, nil
	})

	var chunks []string
	_, err := d.ExecuteStreaming(context.Background(), kernel.ToolCall{Name: "Shell"}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"partial output"}, chunks)
	assert.Nil(t, sh.onOutput, "handler callback must be cleared after the call completes")
}

type fakeStreamingTool struct {
	onOutput func(chunk string)
}

func (f *fakeStreamingTool) SetOnOutput(fn func(chunk string)) {
	f.onOutput = fn
}
