package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StubClient is an offline UpstreamClient that answers a handful of
// introspection tools without reaching any real MCP server. It lets the
// proxy, dispatcher, and context manager be exercised end-to-end (in tests,
// or a dev run with no mcp.upstream configured) without a live upstream.
type StubClient struct {
	startedAt time.Time
}

// NewStubClient creates a new offline MCP client.
func NewStubClient() *StubClient {
	return &StubClient{startedAt: time.Now()}
}

// Initialize simulates the MCP handshake.
func (c *StubClient) Initialize(ctx context.Context, clientInfo map[string]interface{}) (*Response, error) {
	return &Response{
		JSONRPC: "2.0",
		ID:      1,
		Result: json.RawMessage(`{
			"protocolVersion": "2024-11-05",
			"capabilities": {},
			"serverInfo": {
				"name": "agentkernel-stub",
				"version": "1.0.0"
			}
		}`),
	}, nil
}

// ListTools returns the stub's fixed tool catalog.
func (c *StubClient) ListTools(ctx context.Context) ([]Tool, error) {
	return []Tool{
		{
			Name:        "echo",
			Description: "Echo the given text back (offline stub, for exercising the proxy/dispatcher without a live upstream)",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {"text": {"type": "string"}}, "required": ["text"]}`),
		},
		{
			Name:        "kernel_uptime",
			Description: "Report how long this offline stub has been running",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}, nil
}

// CallTool executes one of the stub's fixed tools.
func (c *StubClient) CallTool(ctx context.Context, name string, arguments interface{}) (*ToolResult, error) {
	switch name {
	case "echo":
		var args struct {
			Text string `json:"text"`
		}
		raw, ok := arguments.(json.RawMessage)
		if !ok {
			raw, _ = json.Marshal(arguments)
		}
		_ = json.Unmarshal(raw, &args)
		return &ToolResult{Content: []ContentBlock{{Type: "text", Text: args.Text}}}, nil
	case "kernel_uptime":
		uptime := time.Since(c.startedAt).Round(time.Millisecond)
		return &ToolResult{Content: []ContentBlock{{Type: "text", Text: uptime.String()}}}, nil
	default:
		return &ToolResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("tool %s not implemented in offline stub", name)}},
			IsError: true,
		}, nil
	}
}
