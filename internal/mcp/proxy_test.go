package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyStatsCountsLocalCalls(t *testing.T) {
	p := NewProxy(nil)
	p.RegisterTool(Tool{Name: "echo"}, func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: []ContentBlock{{Type: "text", Text: "ok"}}}, nil
	})

	_, err := p.CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	_, err = p.CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.LocalCalls)
	assert.Equal(t, int64(0), stats.UpstreamCalls)
}

func TestProxyStatsCountsUpstreamCalls(t *testing.T) {
	p := NewProxy(NewStubClient())

	_, err := p.CallTool(context.Background(), "kernel_uptime", nil)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.UpstreamCalls)
	assert.Equal(t, int64(0), stats.LocalCalls)
}

func TestProxyUnknownToolWithNoUpstreamIsError(t *testing.T) {
	p := NewProxy(nil)
	res, err := p.CallTool(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
