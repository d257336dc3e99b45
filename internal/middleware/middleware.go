// Package middleware implements the turn-shaping hooks AgentExecutor runs
// before and after each round: turn limits, cost ceilings, context-window
// warnings, and the teacher's repeat-tool-call steering behavior.
package middleware

import (
	"context"

	"github.com/riftloop/agentkernel/internal/kernel"
)

// Result is what a middleware returns after inspecting one round. Exactly
// one of these four actions applies; Continue is the zero value so a
// middleware that has nothing to say can return an empty Result.
type Action int

const (
	ActionContinue Action = iota
	ActionWarn
	ActionCompact
	ActionStop
)

type Result struct {
	Action  Action
	Notice  string // human-readable text for ActionWarn/ActionStop
	StopErr error  // set when Action == ActionStop
}

// TurnState is the read-only view of the in-progress turn a middleware
// inspects. It is rebuilt each round rather than mutated in place.
type TurnState struct {
	Round       int
	MaxRounds   int
	History     []kernel.Message
	LastAssist  *kernel.Message
	ToolResults []*kernel.ToolResult
	SpentUSD    float64
	BudgetUSD   float64
	ContextUsed int
	ContextMax  int
}

// Middleware runs once per round. Before hooks run at the start of the
// round, before the LLM call; After hooks run after tool execution, before
// the next round's LLM call.
type Middleware interface {
	Name() string
	Before(ctx context.Context, state TurnState) Result
	After(ctx context.Context, state TurnState) Result
}

// Pipeline runs an ordered list of middlewares, short-circuiting on the
// first non-Continue result (a Stop or Compact from one middleware
// pre-empts the rest — there's no reason to ask a cost guard's opinion
// after a turn-limit middleware already decided to stop).
type Pipeline struct {
	stages []Middleware
}

func NewPipeline(stages ...Middleware) *Pipeline {
	return &Pipeline{stages: stages}
}

func (p *Pipeline) RunBefore(ctx context.Context, state TurnState) Result {
	for _, m := range p.stages {
		if r := m.Before(ctx, state); r.Action != ActionContinue {
			return r
		}
	}
	return Result{}
}

func (p *Pipeline) RunAfter(ctx context.Context, state TurnState) Result {
	for _, m := range p.stages {
		if r := m.After(ctx, state); r.Action != ActionContinue {
			return r
		}
	}
	return Result{}
}
