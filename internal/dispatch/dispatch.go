// Package dispatch implements kernel.ToolExecutor on top of an MCP proxy:
// it classifies each call as read-only or mutating, runs it through the
// session's LaneQueue lane for the appropriate exclusion policy. It holds
// the session's checkpoint.Manager but does not call it; the Edit and Shell
// handlers record their own checkpoints before they change files.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/riftloop/agentkernel/internal/checkpoint"
	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/lanequeue"
	"github.com/riftloop/agentkernel/internal/mcp"
)

// defaultToolTimeout matches spec.md §5/§8's 120s default, used when New is
// given a non-positive timeout.
const defaultToolTimeout = 120 * time.Second

// StreamingTool is implemented by handlers that can report incremental
// output while they run (currently only the Shell tool). Dispatcher type
// switches on this, rather than adding streaming to every handler.
type StreamingTool interface {
	SetOnOutput(func(chunk string))
}

// Dispatcher executes tool calls for one session against an MCP proxy.
type Dispatcher struct {
	proxy       *mcp.Proxy
	lanes       *lanequeue.Queue
	checkpoints *checkpoint.Manager
	laneKey     string
	catalog     []kernel.ToolDescriptor
	mutating    map[string]bool
	streaming   map[string]StreamingTool
	timeout     time.Duration
}

// New creates a Dispatcher for one session's lane. mutatingTools names the
// tool calls that must run with exclusive access to the lane (Edit, Shell,
// etc.); everything else runs as read-only and may overlap with other reads
// in the same lane. toolTimeout bounds each call through the lane queue; a
// non-positive value falls back to the spec's 120s default.
func New(proxy *mcp.Proxy, lanes *lanequeue.Queue, checkpoints *checkpoint.Manager, laneKey string, catalog []kernel.ToolDescriptor, mutatingTools []string, toolTimeout time.Duration) *Dispatcher {
	mutating := make(map[string]bool, len(mutatingTools))
	for _, name := range mutatingTools {
		mutating[name] = true
	}
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	return &Dispatcher{
		proxy:       proxy,
		lanes:       lanes,
		checkpoints: checkpoints,
		laneKey:     laneKey,
		catalog:     catalog,
		mutating:    mutating,
		streaming:   make(map[string]StreamingTool),
		timeout:     toolTimeout,
	}
}

// RegisterStreaming associates a tool name with a handler that can report
// incremental output via SetOnOutput, so ExecuteStreaming can wire onChunk
// through to it for the duration of one call.
func (d *Dispatcher) RegisterStreaming(toolName string, handler StreamingTool) {
	d.streaming[toolName] = handler
}

// Describe returns the tool catalog this dispatcher was built with.
func (d *Dispatcher) Describe() []kernel.ToolDescriptor {
	return d.catalog
}

func (d *Dispatcher) classOf(name string) lanequeue.Class {
	if d.mutating[name] {
		return lanequeue.ClassMutating
	}
	return lanequeue.ClassReadOnly
}

// Execute runs one tool call under the lane's exclusion policy.
func (d *Dispatcher) Execute(ctx context.Context, call kernel.ToolCall) (*kernel.ToolResult, error) {
	var result *kernel.ToolResult
	err := d.lanes.Run(ctx, d.laneKey, d.classOf(call.Name), d.timeout, func(ctx context.Context) error {
		res, err := d.proxy.CallTool(ctx, call.Name, call.Arguments)
		if err != nil {
			return err
		}
		result = toKernelResult(call, res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: %s: %w", call.Name, err)
	}
	return result, nil
}

// ExecuteStreaming runs one tool call the same way as Execute, additionally
// wiring onChunk through to the tool's streaming handler (if any) for the
// call's duration. The lane's mutual-exclusion guarantee means at most one
// mutating call is in flight per lane at a time, so swapping the shared
// handler's output callback around the call is race-free within a lane.
func (d *Dispatcher) ExecuteStreaming(ctx context.Context, call kernel.ToolCall, onChunk func(string)) (*kernel.ToolResult, error) {
	handler, ok := d.streaming[call.Name]
	if !ok || onChunk == nil {
		return d.Execute(ctx, call)
	}

	var result *kernel.ToolResult
	err := d.lanes.Run(ctx, d.laneKey, d.classOf(call.Name), d.timeout, func(ctx context.Context) error {
		handler.SetOnOutput(onChunk)
		defer handler.SetOnOutput(nil)
		res, err := d.proxy.CallTool(ctx, call.Name, call.Arguments)
		if err != nil {
			return err
		}
		result = toKernelResult(call, res)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: %s: %w", call.Name, err)
	}
	return result, nil
}

func toKernelResult(call kernel.ToolCall, res *mcp.ToolResult) *kernel.ToolResult {
	blocks := make([]kernel.ContentBlock, len(res.Content))
	for i, b := range res.Content {
		blocks[i] = kernel.ContentBlock{Type: b.Type, Text: b.Text}
	}
	return &kernel.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    blocks,
		IsError:    res.IsError,
	}
}
