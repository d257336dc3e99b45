package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/riftloop/agentkernel/internal/mcp"
)

// TodoStatus is the lifecycle state of a single scratchpad item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in the agent's working plan.
type TodoItem struct {
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Scratchpad holds the agent's current plan as a checklist, safe for
// concurrent access. Content renders it as text kept visible at the tail of
// the LLM context (see internal/contextmgr.Manager.ScratchpadText) so the
// agent's goals and progress stay in the model's recent attention window
// even after older history has been folded away.
type Scratchpad struct {
	mu    sync.RWMutex
	items []TodoItem
}

// Content renders the current plan as a checklist, or "" when empty.
func (s *Scratchpad) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		return ""
	}
	var b strings.Builder
	done := 0
	for _, it := range s.items {
		mark := "[ ]"
		switch it.Status {
		case TodoInProgress:
			mark = "[~]"
		case TodoCompleted:
			mark = "[x]"
			done++
		}
		fmt.Fprintf(&b, "%s %s\n", mark, it.Content)
	}
	return fmt.Sprintf("plan (%d/%d done):\n%s", done, len(s.items), b.String())
}

// TodoWriteArgs represents arguments for the TodoWrite tool.
type TodoWriteArgs struct {
	Items []TodoItem `json:"items"`
}

// NewTodoWriteTool creates the TodoWrite tool definition.
func NewTodoWriteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "TodoWrite",
		Description: `Write or update your working plan as a checklist. The list replaces any previous plan in full and is kept visible at the end of your context window, showing completed/total progress. Use this to track goals and progress for tasks with 3+ steps; mark items in_progress as you start them and completed as you finish, rather than waiting to report everything at the end. Skip for simple single-step tasks.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"description": "The full plan. Replaces any previous list entirely.",
					"items": {
						"type": "object",
						"properties": {
							"content": {"type": "string", "description": "What this step does, in imperative form."},
							"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
						},
						"required": ["content", "status"]
					}
				}
			},
			"required": ["items"]
		}`),
	}
}

// MakeTodoWriteHandler creates a handler that stores the plan in the scratchpad.
func MakeTodoWriteHandler(pad *Scratchpad) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args TodoWriteArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return &mcp.ToolResult{
				Content: []mcp.ContentBlock{{Type: "text", Text: "Invalid arguments: " + err.Error()}},
				IsError: true,
			}, nil
		}
		for _, it := range args.Items {
			switch it.Status {
			case TodoPending, TodoInProgress, TodoCompleted:
			default:
				return &mcp.ToolResult{
					Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("invalid status %q for item %q", it.Status, it.Content)}},
					IsError: true,
				}, nil
			}
		}

		pad.mu.Lock()
		pad.items = args.Items
		pad.mu.Unlock()

		done := 0
		for _, it := range args.Items {
			if it.Status == TodoCompleted {
				done++
			}
		}
		return &mcp.ToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("plan updated: %d/%d done", done, len(args.Items))}},
		}, nil
	}
}
