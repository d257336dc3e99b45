package tools

import (
	"context"
	"encoding/json"

	"github.com/riftloop/agentkernel/internal/durablestore"
	"github.com/riftloop/agentkernel/internal/mcp"
)

// RestoreContextArgs are the arguments to the RestoreContext tool.
type RestoreContextArgs struct {
	ToolCallID string `json:"tool_call_id"`
}

// NewRestoreContextTool creates the RestoreContext tool definition.
func NewRestoreContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "restore_context",
		Description: `Retrieve the full content of a tool result that was archived because it was too large to keep in context. Pass the tool_call_id referenced in the archived stub.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tool_call_id": {"type": "string", "description": "The tool_call_id referenced in the archived stub"}
			},
			"required": ["tool_call_id"]
		}`),
	}
}

// MakeRestoreContextHandler creates a handler that reads archived tool
// results back out of store.
func MakeRestoreContextHandler(store *durablestore.Store) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args RestoreContextArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.ToolCallID == "" {
			return toolError("tool_call_id is required"), nil
		}
		content, ok := store.Get(args.ToolCallID)
		if !ok {
			return toolError("No archived result found for tool_call_id %q", args.ToolCallID), nil
		}
		return toolText(content), nil
	}
}
