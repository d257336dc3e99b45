// Package kernel defines the types shared by the agent execution loop and
// its collaborators: messages, tool calls and results, the typed streaming
// events a caller (CLI, TUI, HTTP handler) renders however it likes, and
// the narrow LlmClient and ToolExecutor interfaces. The loop itself lives
// in internal/executor.
//
// The kernel package never imports internal/provider or internal/mcp, so a
// caller can swap in a test double for either interface without pulling in
// HTTP or subprocess machinery.
package kernel

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function call the model asked to make.
type ToolCall struct {
	ID               string
	Name             string
	Arguments        json.RawMessage
	ThoughtSignature string
}

// Message is one turn of conversation history, the unit the ContextManager
// compresses and the ProviderAdapter serializes to a wire format. Only the
// fields relevant to Role are populated; this mirrors the teacher's single
// flat Message struct rather than per-role variant types because every
// provider adapter in the pack converts from exactly this shape.
type Message struct {
	Role         Role
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	ToolCallID   string
	FunctionName string
	CreatedAt    time.Time
	InputTokens  int
	OutputTokens int
	// Summary marks a System message synthesized by ContextManager.Prepare
	// to replace a folded span of older history.
	Summary bool
}

// ChatEntry is the tagged union of everything AgentExecutor.Process can
// emit as a settled, non-streaming result: either a complete assistant
// message, a tool result, or a terminal error. Exactly one field other than
// Kind is meaningful per variant — callers should switch on Kind rather
// than testing fields for zero values, which is the usual Go idiom where a
// language lacks sum types.
type ChatEntryKind int

const (
	ChatEntryAssistant ChatEntryKind = iota
	ChatEntryTool
	ChatEntryError
)

type ChatEntry struct {
	Kind ChatEntryKind

	Assistant *Message    // set when Kind == ChatEntryAssistant
	Tool      *ToolResult // set when Kind == ChatEntryTool
	Err       error       // set when Kind == ChatEntryError
}

// StreamingChunkKind tags a single incremental event emitted while a turn
// is in flight.
type StreamingChunkKind int

const (
	ChunkContentDelta StreamingChunkKind = iota
	ChunkReasoningDelta
	ChunkToolCallBegin
	ChunkToolCallDelta
	ChunkToolCallResult
	ChunkToolStreamDelta
	ChunkUsage
	ChunkMiddlewareNotice
	ChunkSteer
	ChunkDone
	ChunkError
)

// StreamingChunk is the unit AgentExecutor.ProcessStream sends on its
// output channel. Like ChatEntry, only the fields relevant to Kind are
// populated.
type StreamingChunk struct {
	Kind StreamingChunkKind

	Content string // ChunkContentDelta, ChunkReasoningDelta, ChunkSteer, ChunkToolStreamDelta

	ToolCallIndex int    // ChunkToolCallBegin, ChunkToolCallDelta
	ToolCallID    string // ChunkToolCallBegin, ChunkToolStreamDelta
	ToolCallName  string // ChunkToolCallBegin
	ToolCallArgs  string // ChunkToolCallDelta (argument fragment)

	ToolResult *ToolResult // ChunkToolCallResult

	InputTokens  int // ChunkUsage
	OutputTokens int // ChunkUsage

	Notice string // ChunkMiddlewareNotice: human-readable warning text

	Err error // ChunkError
}

// ToolDescriptor is the provider-agnostic tool definition the ToolSelector
// scores and the ProviderAdapter serializes into each wire format's tool
// schema.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	// Keywords drive ToolSelector's deterministic scoring; see
	// internal/toolselect.
	Keywords []string
	// AlwaysInclude exempts this tool from selection scoring — it is always
	// offered to the model regardless of the current turn's content.
	AlwaysInclude bool
}

// ContentBlock is one piece of a tool's result content (currently always
// text, mirroring the MCP ContentBlock shape the dispatcher already
// produces).
type ContentBlock struct {
	Type string
	Text string
}

// ToolResult is the outcome of one dispatched tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    []ContentBlock
	IsError    bool
}

// LlmClient is the narrow interface AgentExecutor needs from a provider
// adapter: stream a turn given history and available tools.
type LlmClient interface {
	Name() string
	ChatStream(ctx context.Context, messages []Message, tools []ToolDescriptor) (<-chan ProviderEvent, error)
}

// ProviderEventKind mirrors provider.StreamEventType so kernel does not
// import internal/provider; the adapter at the call site converts.
type ProviderEventKind int

const (
	ProviderContentDelta ProviderEventKind = iota
	ProviderReasoningDelta
	ProviderToolCallBegin
	ProviderToolCallDelta
	ProviderUsage
	ProviderDone
	ProviderError
)

type ProviderEvent struct {
	Kind              ProviderEventKind
	Content           string
	ToolCallIndex     int
	ToolCallID        string
	ToolCallName      string
	ToolCallSignature string
	ToolCallArgs      string
	InputTokens       int
	OutputTokens      int
	Err               error
}

// ToolExecutor is the narrow interface AgentExecutor needs from the tool
// dispatcher: execute one call and return its result. Streaming tool output
// (e.g. Shell) is delivered out of band through onChunk in ExecuteStreaming.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	ExecuteStreaming(ctx context.Context, call ToolCall, onChunk func(string)) (*ToolResult, error)
	Describe() []ToolDescriptor
}
