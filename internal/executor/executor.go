// Package executor implements AgentExecutor, the loop that composes an
// LlmClient, a ToolExecutor, a middleware.Pipeline, a contextmgr.Manager, a
// toolselect.Selector, and a costguard.Guard into one turn. It is grounded
// on the teacher's internal/llm ProcessTurn loop (stream, fold, execute
// tools, repeat) generalized per the kernel's budget/middleware/cancellation
// requirements. AgentExecutor lives outside internal/kernel because
// middleware (and several other collaborators) import kernel for its
// message/result types — folding the loop into kernel itself would be a
// cycle.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/riftloop/agentkernel/internal/cancel"
	"github.com/riftloop/agentkernel/internal/contextmgr"
	"github.com/riftloop/agentkernel/internal/costguard"
	"github.com/riftloop/agentkernel/internal/durablestore"
	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/middleware"
	"github.com/riftloop/agentkernel/internal/tokencount"
	"github.com/riftloop/agentkernel/internal/toolselect"
)

// FollowupMode controls how queued follow-up messages are applied once the
// tool-calling loop ends.
type FollowupMode int

const (
	// FollowupModeAppend appends each queued message as its own user turn
	// and emits a ChunkSteer for it.
	FollowupModeAppend FollowupMode = iota
	// FollowupModeCollect concatenates every queued message into one user
	// turn.
	FollowupModeCollect
)

// maxToolOutputChars is the per-tool-result truncation ceiling; the full
// payload is always archived to the durable store first.
const maxToolOutputChars = 20_000

// observationWrappers rotates a small set of presentation templates around
// tool output so the model doesn't learn a single repetitive framing over a
// long session.
var observationWrappers = []string{
	"%s",
	"Result:\n%s",
	"Tool output:\n%s",
	"Completed. Output below:\n%s",
}

// AgentExecutor runs one session's turns. It is not safe for concurrent use
// by more than one goroutine driving the same turn; SessionID/LaneKey scope
// it to a single conversation.
type AgentExecutor struct {
	SessionID string
	LaneKey   string
	Model     string

	LLM   kernel.LlmClient
	Tools kernel.ToolExecutor

	Pipeline  *middleware.Pipeline
	Context   *contextmgr.Manager
	Selector  *toolselect.Selector
	Cost      *costguard.Guard
	Store     *durablestore.Store
	counter   tokencountOnce

	MaxToolRounds int
	BudgetUSD     float64

	mu           sync.Mutex
	steerQueue   []kernel.Message
	followups    []kernel.Message
	followupMode FollowupMode
	wrapIdx      int
}

// tokencountOnce lazily resolves a TokenCounter for Model so callers don't
// have to wire it in separately from contextmgr's own resolution.
type tokencountOnce struct {
	once    sync.Once
	counter tokencount.TokenCounter
}

func (t *tokencountOnce) get(model string) tokencount.TokenCounter {
	t.once.Do(func() {
		t.counter = tokencount.ForModel(model)
	})
	return t.counter
}

// New creates an AgentExecutor. maxToolRounds <= 0 falls back to 60, the
// teacher's default.
func New(sessionID, laneKey, model string, llm kernel.LlmClient, tools kernel.ToolExecutor, pipeline *middleware.Pipeline, ctxMgr *contextmgr.Manager, selector *toolselect.Selector, cost *costguard.Guard, store *durablestore.Store, maxToolRounds int, budgetUSD float64) *AgentExecutor {
	if maxToolRounds <= 0 {
		maxToolRounds = 60
	}
	return &AgentExecutor{
		SessionID:     sessionID,
		LaneKey:       laneKey,
		Model:         model,
		LLM:           llm,
		Tools:         tools,
		Pipeline:      pipeline,
		Context:       ctxMgr,
		Selector:      selector,
		Cost:          cost,
		Store:         store,
		MaxToolRounds: maxToolRounds,
		BudgetUSD:     budgetUSD,
	}
}

// Steer enqueues a user message to be spliced into the conversation at the
// next safe point between tool calls, letting a caller redirect a long
// tool-calling turn in flight.
func (e *AgentExecutor) Steer(msg kernel.Message) {
	e.mu.Lock()
	e.steerQueue = append(e.steerQueue, msg)
	e.mu.Unlock()
}

func (e *AgentExecutor) drainSteer() (kernel.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steerQueue) == 0 {
		return kernel.Message{}, false
	}
	msg := e.steerQueue[0]
	e.steerQueue = e.steerQueue[1:]
	return msg, true
}

// QueueFollowup enqueues a message to be applied after the tool-calling loop
// terminates, per mode.
func (e *AgentExecutor) QueueFollowup(msg kernel.Message, mode FollowupMode) {
	e.mu.Lock()
	e.followups = append(e.followups, msg)
	e.followupMode = mode
	e.mu.Unlock()
}

func (e *AgentExecutor) takeFollowups() ([]kernel.Message, FollowupMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.followups
	e.followups = nil
	return out, e.followupMode
}

func (e *AgentExecutor) nextWrapper() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := observationWrappers[e.wrapIdx%len(observationWrappers)]
	e.wrapIdx++
	return w
}

// Process runs ProcessStream to completion and collects its output into a
// settled list of ChatEntry values, the sequential form of the public
// contract.
func (e *AgentExecutor) Process(ctx context.Context, input string, history, messages *[]kernel.Message, tok *cancel.Token) []kernel.ChatEntry {
	var entries []kernel.ChatEntry
	for chunk := range e.ProcessStream(ctx, input, history, messages, tok) {
		switch chunk.Kind {
		case kernel.ChunkToolCallResult:
			entries = append(entries, kernel.ChatEntry{Kind: kernel.ChatEntryTool, Tool: chunk.ToolResult})
		case kernel.ChunkError:
			entries = append(entries, kernel.ChatEntry{Kind: kernel.ChatEntryError, Err: chunk.Err})
		}
	}
	// The terminal assistant message (if any) is always the last entry
	// appended to messages by ProcessStream; surface it too.
	if messages != nil && len(*messages) > 0 {
		last := (*messages)[len(*messages)-1]
		if last.Role == kernel.RoleAssistant {
			m := last
			entries = append(entries, kernel.ChatEntry{Kind: kernel.ChatEntryAssistant, Assistant: &m})
		}
	}
	return entries
}

// ProcessStream implements the streaming form of the AgentExecutor contract
// (spec §4.1): it mutates history and messages in place by append and
// returns a channel of StreamingChunk, closed once the turn settles (a
// terminal assistant message, a cancellation, an error, or the round
// ceiling). No panic escapes this method — a recovered panic becomes a
// ChunkError followed by ChunkDone.
func (e *AgentExecutor) ProcessStream(ctx context.Context, input string, history, messages *[]kernel.Message, tok *cancel.Token) <-chan kernel.StreamingChunk {
	out := make(chan kernel.StreamingChunk, 16)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("executor: recovered panic: %v", r)
				log.Error().Interface("panic", r).Str("session", e.SessionID).Msg("executor: recovered panic")
				e.appendError(history, messages, err)
				out <- kernel.StreamingChunk{Kind: kernel.ChunkError, Err: err}
				out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
			}
		}()
		e.runLoop(ctx, input, history, messages, tok, out)
	}()
	return out
}

func (e *AgentExecutor) runLoop(ctx context.Context, input string, history, messages *[]kernel.Message, tok *cancel.Token, out chan<- kernel.StreamingChunk) {
	counter := e.counter.get(e.Model)
	inputTokens := tokencount.CountMessages(counter, messagesAsText(*messages))
	out <- kernel.StreamingChunk{Kind: kernel.ChunkUsage, InputTokens: inputTokens}

	var selection toolselect.Result
	haveSelection := false
	spent := e.spent()

	for round := 0; round < e.MaxToolRounds; round++ {
		if tok != nil && tok.Tripped() {
			out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: "[cancelled]"}
			out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
			return
		}

		state := e.turnState(round, *history, *messages, spent)
		if e.Pipeline != nil {
			if r := e.Pipeline.RunBefore(ctx, state); !e.handleMiddlewareResult(r, messages, out) {
				return
			} else if r.Action == middleware.ActionCompact {
				e.compactNow(ctx, messages)
			}
		}

		if !haveSelection {
			selection = e.select_(input)
			haveSelection = true
		}

		prepared, warn, err := e.prepare(ctx, *messages)
		if err != nil {
			e.fail(history, messages, out, fmt.Errorf("context prepare: %w", err))
			return
		}
		if warn.Level != contextmgr.LevelNone {
			out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: contextWarningText(warn)}
		}

		if e.Store != nil {
			prepared = contextmgr.CompactLargeToolResults(prepared, e.Store, 0)
		}

		descriptors := selection.Tools
		if hint := toolselect.AutoDiscoveryHint(selection, 0); hint != "" {
			prepared = append(prepared, kernel.Message{Role: kernel.RoleSystem, Content: hint})
		}

		evtCh, err := e.LLM.ChatStream(ctx, prepared, descriptors)
		if err != nil {
			e.fail(history, messages, out, fmt.Errorf("provider stream: %w", err))
			return
		}

		asst, cancelled := e.fold(ctx, evtCh, tok, out)
		if cancelled {
			out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: "[cancelled]"}
			out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
			return
		}

		asst.CreatedAt = time.Now()
		*history = append(*history, asst)
		*messages = append(*messages, asst)

		if e.Cost != nil {
			e.Cost.RecordUsage(e.SessionID, e.Model, asst.InputTokens, asst.OutputTokens)
			spent = e.Cost.Spent(e.SessionID)
		}
		out <- kernel.StreamingChunk{Kind: kernel.ChunkUsage, InputTokens: asst.InputTokens, OutputTokens: asst.OutputTokens}

		if len(asst.ToolCalls) == 0 {
			followups, mode := e.takeFollowups()
			e.applyFollowups(history, messages, followups, mode, out)
			out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
			return
		}

		if e.BudgetUSD > 0 && spent >= e.BudgetUSD {
			msg := kernel.Message{
				Role:      kernel.RoleAssistant,
				Content:   fmt.Sprintf("Stopping: cost ceiling reached ($%.4f of $%.4f).", spent, e.BudgetUSD),
				CreatedAt: time.Now(),
			}
			*history = append(*history, msg)
			*messages = append(*messages, msg)
			out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: msg.Content}
			out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
			return
		}

		steered := false
		for _, call := range asst.ToolCalls {
			if tok != nil && tok.Tripped() {
				out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: "[cancelled]"}
				out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
				return
			}

			if steer, ok := e.drainSteer(); ok {
				steer.Role = kernel.RoleUser
				steer.CreatedAt = time.Now()
				*history = append(*history, steer)
				*messages = append(*messages, steer)
				out <- kernel.StreamingChunk{Kind: kernel.ChunkSteer, Content: steer.Content}
				steered = true
				break
			}

			result := e.executeOne(ctx, call, out)

			if e.Store != nil && result != nil {
				full := resultText(result)
				_ = e.Store.Put(call.ID, full)
			}
			toolMsg := e.resultToMessage(call, result)
			*history = append(*history, toolMsg)
			*messages = append(*messages, toolMsg)
			out <- kernel.StreamingChunk{Kind: kernel.ChunkToolCallResult, ToolResult: result}

			inputTokens = tokencount.CountMessages(counter, messagesAsText(*messages))
			out <- kernel.StreamingChunk{Kind: kernel.ChunkUsage, InputTokens: inputTokens}
		}

		if steered {
			continue
		}

		state = e.turnState(round, *history, *messages, spent)
		if e.Pipeline != nil {
			if r := e.Pipeline.RunAfter(ctx, state); !e.handleMiddlewareResult(r, messages, out) {
				return
			} else if r.Action == middleware.ActionCompact {
				e.compactNow(ctx, messages)
			}
		} else if e.Cost != nil && e.BudgetUSD > 0 && spent >= e.BudgetUSD {
			out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
			return
		}
	}

	out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: "Maximum tool execution rounds reached."}

	followups, mode := e.takeFollowups()
	e.applyFollowups(history, messages, followups, mode, out)

	out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
}

func (e *AgentExecutor) applyFollowups(history, messages *[]kernel.Message, followups []kernel.Message, mode FollowupMode, out chan<- kernel.StreamingChunk) {
	if len(followups) == 0 {
		return
	}
	switch mode {
	case FollowupModeCollect:
		var combined string
		for i, m := range followups {
			if i > 0 {
				combined += "\n\n"
			}
			combined += m.Content
		}
		msg := kernel.Message{Role: kernel.RoleUser, Content: combined, CreatedAt: time.Now()}
		*history = append(*history, msg)
		*messages = append(*messages, msg)
	default:
		for _, m := range followups {
			m.Role = kernel.RoleUser
			m.CreatedAt = time.Now()
			*history = append(*history, m)
			*messages = append(*messages, m)
			out <- kernel.StreamingChunk{Kind: kernel.ChunkSteer, Content: m.Content}
		}
	}
}

// handleMiddlewareResult applies a middleware.Result's disposition, writing
// any terminal message and returning false when the caller should stop the
// loop.
func (e *AgentExecutor) handleMiddlewareResult(r middleware.Result, messages *[]kernel.Message, out chan<- kernel.StreamingChunk) bool {
	switch r.Action {
	case middleware.ActionStop:
		msg := kernel.Message{Role: kernel.RoleAssistant, Content: r.Notice, CreatedAt: time.Now()}
		*messages = append(*messages, msg)
		out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: r.Notice}
		out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
		return false
	case middleware.ActionWarn:
		out <- kernel.StreamingChunk{Kind: kernel.ChunkMiddlewareNotice, Notice: r.Notice}
		return true
	default:
		return true
	}
}

func (e *AgentExecutor) turnState(round int, history, messages []kernel.Message, spent float64) middleware.TurnState {
	var lastAssist *kernel.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == kernel.RoleAssistant {
			m := messages[i]
			lastAssist = &m
			break
		}
	}
	contextMax := 0
	if e.Context != nil {
		contextMax = e.Context.MaxContextTokens
	}
	counter := e.counter.get(e.Model)
	used := tokencount.CountMessages(counter, messagesAsText(messages))
	return middleware.TurnState{
		Round:       round,
		MaxRounds:   e.MaxToolRounds,
		History:     history,
		LastAssist:  lastAssist,
		SpentUSD:    spent,
		BudgetUSD:   e.BudgetUSD,
		ContextUsed: used,
		ContextMax:  contextMax,
	}
}

func (e *AgentExecutor) spent() float64 {
	if e.Cost == nil {
		return 0
	}
	return e.Cost.Spent(e.SessionID)
}

func (e *AgentExecutor) select_(input string) toolselect.Result {
	if e.Selector == nil {
		return toolselect.Result{Tools: e.Tools.Describe(), Confidence: 1}
	}
	return e.Selector.Select(input, e.Tools.Describe())
}

func (e *AgentExecutor) prepare(ctx context.Context, messages []kernel.Message) ([]kernel.Message, contextmgr.Warning, error) {
	if e.Context == nil {
		return messages, contextmgr.Warning{}, nil
	}
	return e.Context.Prepare(ctx, messages)
}

func (e *AgentExecutor) compactNow(ctx context.Context, messages *[]kernel.Message) {
	if e.Context == nil {
		return
	}
	compacted, _, err := e.Context.Prepare(ctx, *messages)
	if err != nil {
		log.Warn().Err(err).Str("session", e.SessionID).Msg("executor: eager compaction failed")
		return
	}
	*messages = compacted
}

func (e *AgentExecutor) fail(history, messages *[]kernel.Message, out chan<- kernel.StreamingChunk, err error) {
	e.appendError(history, messages, err)
	out <- kernel.StreamingChunk{Kind: kernel.ChunkError, Err: err}
	out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: err.Error()}
	out <- kernel.StreamingChunk{Kind: kernel.ChunkDone}
}

func (e *AgentExecutor) appendError(history, messages *[]kernel.Message, err error) {
	msg := kernel.Message{Role: kernel.RoleAssistant, Content: "error: " + err.Error(), CreatedAt: time.Now()}
	if history != nil {
		*history = append(*history, msg)
	}
	if messages != nil {
		*messages = append(*messages, msg)
	}
}

func contextWarningText(w contextmgr.Warning) string {
	switch w.Level {
	case contextmgr.LevelCritical:
		return fmt.Sprintf("context window critical: %d/%d tokens used", w.UsedTokens, w.MaxTokens)
	case contextmgr.LevelWarn:
		return fmt.Sprintf("context window filling up: %d/%d tokens used", w.UsedTokens, w.MaxTokens)
	default:
		return ""
	}
}

func messagesAsText(messages []kernel.Message) []string {
	texts := make([]string, 0, len(messages)*2)
	for _, m := range messages {
		texts = append(texts, string(m.Role), m.Content, m.Reasoning)
	}
	return texts
}
