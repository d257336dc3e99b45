package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClientListToolsAndCallEcho(t *testing.T) {
	c := NewStubClient()

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	args, err := json.Marshal(map[string]string{"text": "hello"})
	require.NoError(t, err)

	res, err := c.CallTool(context.Background(), "echo", json.RawMessage(args))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "hello", res.Content[0].Text)
}

func TestStubClientCallUnknownToolIsAnError(t *testing.T) {
	c := NewStubClient()
	res, err := c.CallTool(context.Background(), "does_not_exist", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestStubClientSatisfiesUpstreamClient(t *testing.T) {
	var _ UpstreamClient = NewStubClient()
}
