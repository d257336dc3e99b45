package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// TurnLimitMiddleware stops the loop once Round reaches MaxRounds, the same
// ceiling the teacher's ProcessTurn enforced inline as MaxToolRounds.
type TurnLimitMiddleware struct{}

func (TurnLimitMiddleware) Name() string { return "turn_limit" }

func (TurnLimitMiddleware) Before(_ context.Context, s TurnState) Result {
	if s.MaxRounds > 0 && s.Round >= s.MaxRounds {
		return Result{Action: ActionStop, Notice: "maximum tool rounds reached"}
	}
	return Result{}
}

func (TurnLimitMiddleware) After(_ context.Context, _ TurnState) Result { return Result{} }

// CostMiddleware stops the loop once cumulative spend would exceed the
// session budget, and warns in the last 10% of headroom so the model has a
// chance to wrap up before being cut off mid-tool-call.
type CostMiddleware struct{}

func (CostMiddleware) Name() string { return "cost_guard" }

func (CostMiddleware) Before(_ context.Context, s TurnState) Result {
	if s.BudgetUSD <= 0 {
		return Result{}
	}
	if s.SpentUSD >= s.BudgetUSD {
		return Result{Action: ActionStop, Notice: fmt.Sprintf("cost ceiling reached: $%.4f of $%.4f", s.SpentUSD, s.BudgetUSD)}
	}
	if s.SpentUSD >= s.BudgetUSD*0.9 {
		return Result{Action: ActionWarn, Notice: fmt.Sprintf("approaching cost ceiling: $%.4f of $%.4f spent", s.SpentUSD, s.BudgetUSD)}
	}
	return Result{}
}

func (CostMiddleware) After(_ context.Context, _ TurnState) Result { return Result{} }

// ContextWarnMiddleware signals Compact once the context window crosses a
// critical fraction of its capacity, deferring to warn below that.
type ContextWarnMiddleware struct {
	WarnFraction     float64 // e.g. 0.80
	CriticalFraction float64 // e.g. 0.95
}

// NewContextWarnMiddleware uses the same 0.80/0.95 fractions as
// contextmgr.Manager's own warningFor thresholds, so the pipeline's
// pre-round check and the context manager's fold decision agree on when the
// window is getting tight.
func NewContextWarnMiddleware() ContextWarnMiddleware {
	return ContextWarnMiddleware{WarnFraction: 0.80, CriticalFraction: 0.95}
}

func (ContextWarnMiddleware) Name() string { return "context_warn" }

func (m ContextWarnMiddleware) Before(_ context.Context, s TurnState) Result {
	if s.ContextMax <= 0 {
		return Result{}
	}
	used := float64(s.ContextUsed) / float64(s.ContextMax)
	switch {
	case used >= m.CriticalFraction:
		return Result{Action: ActionCompact, Notice: "context window critical, compacting history"}
	case used >= m.WarnFraction:
		return Result{Action: ActionWarn, Notice: "context window filling up"}
	}
	return Result{}
}

func (ContextWarnMiddleware) After(_ context.Context, _ TurnState) Result { return Result{} }

// RepeatCallMiddleware warns when the model issues the same tool call with
// the same arguments three rounds running, the teacher's injectRecitation
// steering behavior for small/local models that loop on a stuck tool call.
type RepeatCallMiddleware struct {
	history []string
}

func NewRepeatCallMiddleware() *RepeatCallMiddleware {
	return &RepeatCallMiddleware{}
}

func (m *RepeatCallMiddleware) Name() string { return "repeat_call" }

func (m *RepeatCallMiddleware) Before(_ context.Context, _ TurnState) Result { return Result{} }

func (m *RepeatCallMiddleware) After(_ context.Context, s TurnState) Result {
	if s.LastAssist == nil || len(s.LastAssist.ToolCalls) == 0 {
		return Result{}
	}
	var keys []string
	for _, tc := range s.LastAssist.ToolCalls {
		keys = append(keys, callKey(tc.Name, tc.Arguments))
	}
	combined := fmt.Sprintf("%v", keys)
	m.history = append(m.history, combined)
	if len(m.history) > 3 {
		m.history = m.history[len(m.history)-3:]
	}
	if len(m.history) == 3 && m.history[0] == m.history[1] && m.history[1] == m.history[2] {
		return Result{Action: ActionWarn, Notice: "you have called the same tool with the same arguments three times in a row; reconsider your approach before repeating it again"}
	}
	return Result{}
}

func callKey(name string, args json.RawMessage) string {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteByte(':')
	buf.Write(bytes.TrimSpace(args))
	return buf.String()
}
