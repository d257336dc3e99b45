// Package contextmgr folds conversation history down to fit a model's
// context window: keep System messages and a recent tail verbatim, summarize
// the middle span, and expand the fold further if the summary still doesn't
// fit. Grounded on the teacher's injectRecitation/history-shaping pattern in
// internal/llm/loop.go, generalized from a fixed reminder-injection interval
// into a token-budget-driven compaction pass.
package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/tokencount"
)

// scratchpadTag opens the terminal system-reminder message Prepare injects
// for the agent's persistent task list, mirroring the teacher's
// injectRecitation tag format.
const scratchpadTag = "<system-reminder>\n"

// Level is the severity of a Prepare warning.
type Level int

const (
	LevelNone Level = iota
	LevelWarn
	LevelCritical
)

// Warning reports how full the context window is after Prepare.
type Warning struct {
	Level     Level
	UsedTokens int
	MaxTokens  int
}

// Summarizer produces a compact System message replacing a folded span of
// history. The zero value (nil Summarizer) falls back to a deterministic
// first/last-N-character summarizer — no LLM round trip required.
type Summarizer interface {
	Summarize(ctx context.Context, span []kernel.Message) (string, error)
}

// Manager folds history to fit within maxContextTokens - responseReserveTokens.
type Manager struct {
	Model                 string
	MaxContextTokens      int
	ResponseReserveTokens int
	RecentKeepCount       int
	CompressionRatio      float64 // e.g. 0.15 — folded summary is at most this fraction of the original token count
	Summarizer            Summarizer
	// ScratchpadText, when set, returns the agent's current persistent task
	// list/plan (see internal/tools.Scratchpad.Content). When it returns
	// non-empty text, Prepare (re-)injects it as a terminal System message
	// so it stays in the model's recent attention window — generalizing the
	// teacher's round-interval injectRecitation into an every-call
	// recitation (spec.md §4.1.d's "persistent task list").
	ScratchpadText func() string

	counter tokencount.TokenCounter
}

// New creates a Manager for model, resolving its token counter once.
func New(model string, maxContextTokens, responseReserveTokens, recentKeepCount int) *Manager {
	if recentKeepCount <= 0 {
		recentKeepCount = 20
	}
	return &Manager{
		Model:                 model,
		MaxContextTokens:      maxContextTokens,
		ResponseReserveTokens: responseReserveTokens,
		RecentKeepCount:       recentKeepCount,
		CompressionRatio:      0.15,
		counter:               tokencount.ForModel(model),
	}
}

func (m *Manager) budget() int {
	b := m.MaxContextTokens - m.ResponseReserveTokens
	if b < 0 {
		b = 0
	}
	return b
}

func (m *Manager) countMessage(msg kernel.Message) int {
	return tokencount.CountMessages(m.counter, []string{string(msg.Role), msg.Content, msg.Reasoning})
}

func (m *Manager) countAll(messages []kernel.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.countMessage(msg)
	}
	return total
}

// Prepare returns a possibly-shorter message list that fits within budget,
// plus a non-fatal warning when usage crosses the warn/critical thresholds
// (measured against the ORIGINAL, unfolded list, since that reflects how
// close the conversation actually is to the cap). Prepare is idempotent:
// calling it on its own output is a no-op once the output already fits.
func (m *Manager) Prepare(ctx context.Context, messages []kernel.Message) ([]kernel.Message, Warning, error) {
	originalTokens := m.countAll(messages)
	warning := m.warningFor(originalTokens)

	budget := m.budget()
	if originalTokens <= budget {
		return m.withScratchpad(messages), warning, nil
	}

	kept, foldable := m.partition(messages)
	if len(foldable) == 0 {
		return m.withScratchpad(messages), warning, nil
	}

	// Expand the fold leftward one message at a time — starting from the
	// single oldest foldable message — until the result fits or nothing
	// more can be folded without crossing a tool_call/tool-result boundary.
	foldEnd := 1
	for foldEnd <= len(foldable) {
		span := safeFoldSpan(foldable, foldEnd)
		summary, err := m.summarize(ctx, foldable[:span])
		if err != nil {
			return nil, warning, fmt.Errorf("contextmgr: summarize: %w", err)
		}

		candidate := buildCandidate(kept, foldable[span:], summary)
		if m.countAll(candidate) <= budget || span == len(foldable) {
			return m.withScratchpad(candidate), warning, nil
		}
		foldEnd = span + 1
	}

	// Nothing more to fold — return best effort.
	summary, err := m.summarize(ctx, foldable)
	if err != nil {
		return nil, warning, fmt.Errorf("contextmgr: summarize: %w", err)
	}
	return m.withScratchpad(buildCandidate(kept, nil, summary)), warning, nil
}

// withScratchpad (re-)injects the agent's persistent task list as a
// terminal System message. Any prior scratchpad message already at the
// tail (from a previous Prepare call on this same slice) is replaced
// rather than duplicated, so repeated Prepare calls stay idempotent.
func (m *Manager) withScratchpad(messages []kernel.Message) []kernel.Message {
	if m.ScratchpadText == nil {
		return messages
	}
	out := messages
	if n := len(out); n > 0 && out[n-1].Role == kernel.RoleSystem && strings.HasPrefix(out[n-1].Content, scratchpadTag) {
		out = out[:n-1]
	}
	plan := m.ScratchpadText()
	if plan == "" {
		return out
	}
	return append(out, kernel.Message{Role: kernel.RoleSystem, Content: scratchpadTag + plan + "\n</system-reminder>"})
}

func (m *Manager) warningFor(usedTokens int) Warning {
	budget := m.budget()
	if budget <= 0 {
		return Warning{}
	}
	frac := float64(usedTokens) / float64(budget)
	switch {
	case frac >= 0.95:
		return Warning{Level: LevelCritical, UsedTokens: usedTokens, MaxTokens: budget}
	case frac >= 0.80:
		return Warning{Level: LevelWarn, UsedTokens: usedTokens, MaxTokens: budget}
	default:
		return Warning{UsedTokens: usedTokens, MaxTokens: budget}
	}
}

// partition splits messages into {kept, foldable}: all System messages plus
// the last RecentKeepCount non-System messages are kept verbatim; the rest
// (the oldest non-System messages) are foldable. The keep boundary is then
// extended leftward, mirroring safeFoldSpan's logic on the fold side, so it
// never starts on a Tool message and thereby separates an Assistant's
// tool_calls from the Tool results answering it (spec.md §8's
// tool-call-pairing invariant applies to both sides of the cut).
func (m *Manager) partition(messages []kernel.Message) (kept, foldable []kernel.Message) {
	var nonSystemIdx []int
	for i, msg := range messages {
		if msg.Role != kernel.RoleSystem {
			nonSystemIdx = append(nonSystemIdx, i)
		}
	}

	keepFrom := len(nonSystemIdx) - m.RecentKeepCount
	if keepFrom < 0 {
		keepFrom = 0
	}
	for keepFrom > 0 && messages[nonSystemIdx[keepFrom]].Role == kernel.RoleTool {
		keepFrom--
	}
	keepSet := make(map[int]bool, len(nonSystemIdx)-keepFrom)
	for _, idx := range nonSystemIdx[keepFrom:] {
		keepSet[idx] = true
	}

	for i, msg := range messages {
		switch {
		case msg.Role == kernel.RoleSystem:
			kept = append(kept, msg)
		case keepSet[i]:
			kept = append(kept, msg)
		default:
			foldable = append(foldable, msg)
		}
	}
	return kept, foldable
}

// safeFoldSpan returns the largest span <= requested that does not split a
// tool_calls/tool-result pair: an Assistant message carrying ToolCalls must
// fold together with every immediately following Tool message answering it.
func safeFoldSpan(foldable []kernel.Message, requested int) int {
	if requested >= len(foldable) {
		return len(foldable)
	}
	span := requested
	for span < len(foldable) && foldable[span].Role == kernel.RoleTool {
		span++
	}
	return span
}

func buildCandidate(kept, tail []kernel.Message, summary kernel.Message) []kernel.Message {
	out := make([]kernel.Message, 0, len(kept)+len(tail)+1)
	// Summary messages are System messages marked Summary=true — they sit
	// logically where the folded span used to be, ahead of the kept tail.
	for _, msg := range kept {
		if msg.Role == kernel.RoleSystem {
			out = append(out, msg)
		}
	}
	out = append(out, summary)
	out = append(out, tail...)
	for _, msg := range kept {
		if msg.Role != kernel.RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Manager) summarize(ctx context.Context, span []kernel.Message) (kernel.Message, error) {
	var text string
	var err error
	if m.Summarizer != nil {
		text, err = m.Summarizer.Summarize(ctx, span)
		if err != nil {
			return kernel.Message{}, err
		}
	} else {
		text = deterministicSummary(span, m.CompressionRatio)
	}
	return kernel.Message{
		Role:    kernel.RoleSystem,
		Content: "[compacted history, " + fmt.Sprint(len(span)) + " messages folded]\n" + text,
		Summary: true,
	}, nil
}

// deterministicSummary concatenates the first and last portion of each
// folded message's content, sized roughly to ratio × the original length,
// for use when no LLM-backed Summarizer is configured.
func deterministicSummary(span []kernel.Message, ratio float64) string {
	if ratio <= 0 {
		ratio = 0.15
	}
	var out string
	for _, msg := range span {
		content := msg.Content
		keep := int(float64(len(content)) * ratio)
		if keep < 40 {
			keep = 40
		}
		if len(content) <= keep*2 {
			out += fmt.Sprintf("%s: %s\n", msg.Role, content)
			continue
		}
		half := keep / 2
		out += fmt.Sprintf("%s: %s […] %s\n", msg.Role, content[:half], content[len(content)-half:])
	}
	return out
}
