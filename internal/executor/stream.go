package executor

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/riftloop/agentkernel/internal/cancel"
	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/lanequeue"
	"github.com/riftloop/agentkernel/internal/streamfold"
)

// fold drains evtCh through a streamfold.Accumulator, forwarding each new
// piece of content/reasoning/tool-call data as a StreamingChunk and
// returning the finalized assistant message. cancelled reports whether tok
// tripped mid-stream, in which case the caller must treat the turn as
// aborted rather than complete.
func (e *AgentExecutor) fold(ctx context.Context, evtCh <-chan kernel.ProviderEvent, tok *cancel.Token, out chan<- kernel.StreamingChunk) (kernel.Message, bool) {
	acc := streamfold.NewAccumulator()
	var lastContentLen int

	for {
		select {
		case <-doneSignal(tok):
			drain(evtCh)
			return kernel.Message{}, true
		case evt, ok := <-evtCh:
			if !ok {
				return acc.Finalize(), false
			}
			if evt.Kind == kernel.ProviderError {
				return kernel.Message{Role: kernel.RoleAssistant, Content: "error: " + evt.Err.Error()}, false
			}

			newToolCall := acc.Fold(evt)

			switch evt.Kind {
			case kernel.ProviderContentDelta:
				display := acc.DisplayContent()
				if delta := display[min(lastContentLen, len(display)):]; delta != "" {
					out <- kernel.StreamingChunk{Kind: kernel.ChunkContentDelta, Content: delta}
				}
				lastContentLen = len(display)
			case kernel.ProviderReasoningDelta:
				out <- kernel.StreamingChunk{Kind: kernel.ChunkReasoningDelta, Content: evt.Content}
			case kernel.ProviderToolCallBegin:
				if newToolCall {
					out <- kernel.StreamingChunk{
						Kind:          kernel.ChunkToolCallBegin,
						ToolCallIndex: evt.ToolCallIndex,
						ToolCallID:    evt.ToolCallID,
						ToolCallName:  evt.ToolCallName,
					}
				}
			case kernel.ProviderToolCallDelta:
				out <- kernel.StreamingChunk{
					Kind:          kernel.ChunkToolCallDelta,
					ToolCallIndex: evt.ToolCallIndex,
					ToolCallArgs:  evt.ToolCallArgs,
				}
				if newToolCall {
					out <- kernel.StreamingChunk{
						Kind:          kernel.ChunkToolCallBegin,
						ToolCallIndex: evt.ToolCallIndex,
						ToolCallName:  evt.ToolCallName,
					}
				}
			case kernel.ProviderUsage:
				out <- kernel.StreamingChunk{Kind: kernel.ChunkUsage, InputTokens: evt.InputTokens, OutputTokens: evt.OutputTokens}
			}
		}
	}
}

func doneSignal(tok *cancel.Token) <-chan struct{} {
	if tok == nil {
		return nil
	}
	return tok.Done()
}

func drain(ch <-chan kernel.ProviderEvent) {
	for range ch {
	}
}

// executeOne runs one tool call, preferring streaming execution when the
// ToolExecutor implementation opts in, and emits ChunkToolStreamDelta for
// each incremental chunk.
func (e *AgentExecutor) executeOne(ctx context.Context, call kernel.ToolCall, out chan<- kernel.StreamingChunk) *kernel.ToolResult {
	onChunk := func(chunk string) {
		out <- kernel.StreamingChunk{Kind: kernel.ChunkToolStreamDelta, ToolCallID: call.ID, Content: chunk}
	}
	result, err := e.Tools.ExecuteStreaming(ctx, call, onChunk)
	if err != nil {
		text := "error: " + err.Error()
		if errors.Is(err, lanequeue.ErrTimeout) {
			// Distinct error class for spec.md §7 kind 6: tool timeout.
			text = "tool timed out: " + err.Error()
		}
		return &kernel.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    []kernel.ContentBlock{{Type: "text", Text: text}},
			IsError:    true,
		}
	}
	return result
}

// resultToMessage converts a ToolResult into the Tool-role history message,
// applying the 20k-char semantic truncation and the observation variator.
func (e *AgentExecutor) resultToMessage(call kernel.ToolCall, result *kernel.ToolResult) kernel.Message {
	text := resultText(result)
	truncated := truncateObservation(text)
	wrapped := strings.ReplaceAll(e.nextWrapper(), "%s", truncated)
	return kernel.Message{
		Role:         kernel.RoleTool,
		Content:      wrapped,
		ToolCallID:   call.ID,
		FunctionName: call.Name,
	}
}

func resultText(result *kernel.ToolResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range result.Content {
		b.WriteString(block.Text)
	}
	return b.String()
}

// truncateObservation keeps the head and tail of a long tool result and
// collapses the middle into an elision marker naming how many characters
// were dropped, preserving the most likely useful parts of long output.
func truncateObservation(s string) string {
	if len(s) <= maxToolOutputChars {
		return s
	}
	head := maxToolOutputChars * 3 / 4
	tail := maxToolOutputChars - head
	elided := len(s) - head - tail
	return s[:head] + elisionMarker(elided) + s[len(s)-tail:]
}

func elisionMarker(n int) string {
	return "\n\n... [" + strconv.Itoa(n) + " characters elided] ...\n\n"
}
