// Package llmclient adapts an internal/provider.Provider to the narrow
// kernel.LlmClient interface the executor depends on, so internal/kernel
// and internal/executor never import internal/provider directly. This is
// the seam the teacher never needed (ProcessTurn called provider.Provider
// directly) because the teacher had no separate kernel package to decouple
// from the wire-format layer.
package llmclient

import (
	"context"

	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/provider"
)

// Adapter wraps a provider.Provider as a kernel.LlmClient.
type Adapter struct {
	Provider provider.Provider
}

// New wraps p.
func New(p provider.Provider) *Adapter {
	return &Adapter{Provider: p}
}

// Name implements kernel.LlmClient.
func (a *Adapter) Name() string { return a.Provider.Name() }

// ChatStream implements kernel.LlmClient, converting kernel types to/from
// the provider package's wire-format-oriented types.
func (a *Adapter) ChatStream(ctx context.Context, messages []kernel.Message, tools []kernel.ToolDescriptor) (<-chan kernel.ProviderEvent, error) {
	stream, err := a.Provider.ChatStream(ctx, toProviderMessages(messages), toProviderTools(tools))
	if err != nil {
		return nil, err
	}

	out := make(chan kernel.ProviderEvent)
	go func() {
		defer close(out)
		for evt := range stream {
			out <- toKernelEvent(evt)
		}
	}()
	return out, nil
}

func toProviderMessages(messages []kernel.Message) []provider.Message {
	out := make([]provider.Message, len(messages))
	for i, m := range messages {
		out[i] = provider.Message{
			Role:         string(m.Role),
			Content:      m.Content,
			Reasoning:    m.Reasoning,
			ToolCalls:    toProviderToolCalls(m.ToolCalls),
			ToolCallID:   m.ToolCallID,
			FunctionName: m.FunctionName,
			CreatedAt:    m.CreatedAt,
			InputTokens:  m.InputTokens,
			OutputTokens: m.OutputTokens,
		}
	}
	return out
}

func toProviderToolCalls(calls []kernel.ToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = provider.ToolCall{
			ID:               c.ID,
			Name:             c.Name,
			Arguments:        c.Arguments,
			ThoughtSignature: c.ThoughtSignature,
		}
	}
	return out
}

func toProviderTools(tools []kernel.ToolDescriptor) []provider.Tool {
	out := make([]provider.Tool, len(tools))
	for i, t := range tools {
		out[i] = provider.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

func toKernelEvent(evt provider.StreamEvent) kernel.ProviderEvent {
	out := kernel.ProviderEvent{
		Content:           evt.Content,
		ToolCallIndex:     evt.ToolCallIndex,
		ToolCallID:        evt.ToolCallID,
		ToolCallName:      evt.ToolCallName,
		ToolCallSignature: evt.ToolCallSignature,
		ToolCallArgs:      evt.ToolCallArgs,
		InputTokens:       evt.InputTokens,
		OutputTokens:      evt.OutputTokens,
		Err:               evt.Err,
	}
	switch evt.Type {
	case provider.EventContentDelta:
		out.Kind = kernel.ProviderContentDelta
	case provider.EventReasoningDelta:
		out.Kind = kernel.ProviderReasoningDelta
	case provider.EventToolCallBegin:
		out.Kind = kernel.ProviderToolCallBegin
	case provider.EventToolCallDelta:
		out.Kind = kernel.ProviderToolCallDelta
	case provider.EventUsage:
		out.Kind = kernel.ProviderUsage
	case provider.EventDone:
		out.Kind = kernel.ProviderDone
	case provider.EventError:
		out.Kind = kernel.ProviderError
	}
	return out
}
