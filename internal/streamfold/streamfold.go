// Package streamfold folds a sequence of raw provider deltas into a
// coherent assistant message, the same job the teacher's toolCallAccumulator
// and collectWithDeltas did inline in internal/llm/loop.go, generalized into
// a standalone accumulator the kernel can drive against any ProviderEvent
// source and that also sanitizes channel-marker artifacts and recovers
// "commentary"-style tool calls text-only models emit in place of native
// function calling.
package streamfold

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/riftloop/agentkernel/internal/kernel"
)

// channelMarker matches provider-internal control tokens of the form
// <|CHANNEL|>...<|MESSAGE|> that some open-weight chat templates leak into
// the content stream; these are stripped from the user-visible text but the
// raw content is retained internally so commentary-pattern tool calls can
// still be parsed once the stream ends.
var channelMarker = regexp.MustCompile(`<\|[A-Za-z_]+\|>`)

// commentaryCall matches "commentary to=<tool> {json}" — the convention
// some models without native tool-calling fall back to when a system prompt
// asks for tool use but the wire protocol offers no function-call channel.
var commentaryCall = regexp.MustCompile(`(?s)commentary to=(\S+)\s*(\{.*?\})(?:\s|$)`)

type toolCallSlot struct {
	id        string
	name      string
	signature string
	argsBuf   strings.Builder
}

// Accumulator folds ProviderEvents into a kernel.Message, tracking running
// token usage and surfacing whether a tool call first completed its name
// this round (hasNewToolCalls in spec terms).
type Accumulator struct {
	content   strings.Builder
	reasoning strings.Builder

	slots   []*toolCallSlot
	byIndex map[int]int

	inputTokens  int
	outputTokens int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{byIndex: make(map[int]int)}
}

// Fold applies one ProviderEvent, returning true if this event completed a
// new tool call's name (the point at which a caller could first display
// "calling <tool>…").
func (a *Accumulator) Fold(evt kernel.ProviderEvent) (newToolCall bool) {
	switch evt.Kind {
	case kernel.ProviderContentDelta:
		a.content.WriteString(evt.Content)
	case kernel.ProviderReasoningDelta:
		a.reasoning.WriteString(evt.Content)
	case kernel.ProviderToolCallBegin:
		slot := &toolCallSlot{id: evt.ToolCallID, name: evt.ToolCallName, signature: evt.ToolCallSignature}
		a.byIndex[evt.ToolCallIndex] = len(a.slots)
		a.slots = append(a.slots, slot)
		return evt.ToolCallName != ""
	case kernel.ProviderToolCallDelta:
		if pos, ok := a.byIndex[evt.ToolCallIndex]; ok {
			slot := a.slots[pos]
			slot.argsBuf.WriteString(evt.ToolCallArgs)
			if evt.ToolCallName != "" && slot.name == "" {
				slot.name = evt.ToolCallName
				return true
			}
		}
	case kernel.ProviderUsage:
		if evt.InputTokens > a.inputTokens {
			a.inputTokens = evt.InputTokens
		}
		if evt.OutputTokens > a.outputTokens {
			a.outputTokens = evt.OutputTokens
		}
	}
	return false
}

// DisplayContent returns the content accumulated so far with channel-marker
// artifacts stripped, suitable for incremental display to a user.
func (a *Accumulator) DisplayContent() string {
	return sanitize(a.content.String())
}

func sanitize(s string) string {
	return channelMarker.ReplaceAllString(s, "")
}

// Finalize builds the complete assistant Message from everything folded so
// far. If no native tool calls were produced, it scans the raw (unsanitized)
// content for commentary-pattern calls and synthesizes ToolCalls from them,
// stripping the originating text from the returned message's Content.
func (a *Accumulator) Finalize() kernel.Message {
	msg := kernel.Message{
		Role:         kernel.RoleAssistant,
		Reasoning:    a.reasoning.String(),
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
	}

	if len(a.slots) > 0 {
		msg.ToolCalls = make([]kernel.ToolCall, len(a.slots))
		for i, slot := range a.slots {
			msg.ToolCalls[i] = kernel.ToolCall{
				ID:               slot.id,
				Name:             slot.name,
				Arguments:        json.RawMessage(slot.argsBuf.String()),
				ThoughtSignature: slot.signature,
			}
		}
		msg.Content = sanitize(a.content.String())
		return msg
	}

	raw := a.content.String()
	if calls, stripped := extractCommentaryCalls(raw); len(calls) > 0 {
		msg.ToolCalls = calls
		msg.Content = sanitize(stripped)
		return msg
	}

	msg.Content = sanitize(raw)
	return msg
}

// extractCommentaryCalls finds every "commentary to=<tool> {json}" span in
// raw, synthesizes a ToolCall per match, and returns raw with those spans
// removed.
func extractCommentaryCalls(raw string) ([]kernel.ToolCall, string) {
	matches := commentaryCall.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil, raw
	}

	var calls []kernel.ToolCall
	var stripped strings.Builder
	last := 0
	for i, m := range matches {
		toolName := raw[m[2]:m[3]]
		argsJSON := raw[m[4]:m[5]]
		calls = append(calls, kernel.ToolCall{
			ID:        syntheticToolCallID(i),
			Name:      toolName,
			Arguments: json.RawMessage(argsJSON),
		})
		stripped.WriteString(raw[last:m[0]])
		last = m[1]
	}
	stripped.WriteString(raw[last:])
	return calls, strings.TrimSpace(stripped.String())
}

func syntheticToolCallID(i int) string {
	return "commentary-" + strconv.Itoa(i)
}
