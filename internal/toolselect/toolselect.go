// Package toolselect picks a subset of the tool catalog relevant to the
// current user input, a cheap RAG-lite pass so small/local models aren't
// handed every tool's full JSON schema on every round. Selection is
// deterministic keyword scoring over ToolDescriptor.Keywords — no
// embeddings, no network call.
package toolselect

import (
	"sort"
	"strings"

	"github.com/riftloop/agentkernel/internal/kernel"
)

// DefaultMaxTools is the default ceiling on the selected subset size.
const DefaultMaxTools = 15

// DefaultConfidenceThreshold is the score, in [0,1], below which Select
// reports low confidence and the executor should inject an auto-discovery
// hint rather than trust the narrowed set.
const DefaultConfidenceThreshold = 0.35

// Result is one Select call's outcome.
type Result struct {
	Tools      []kernel.ToolDescriptor
	Confidence float64
	Categories []string
}

// Selector scores tools against a user input's keyword overlap.
type Selector struct {
	MaxTools            int
	ConfidenceThreshold float64
	AlwaysInclude       map[string]bool // tool names exempt from scoring
	Categories          map[string]string // tool name -> category label
}

// New creates a Selector with the given always-included tool names.
func New(alwaysInclude ...string) *Selector {
	always := make(map[string]bool, len(alwaysInclude))
	for _, name := range alwaysInclude {
		always[name] = true
	}
	return &Selector{
		MaxTools:            DefaultMaxTools,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		AlwaysInclude:       always,
		Categories:          map[string]string{},
	}
}

type scored struct {
	tool  kernel.ToolDescriptor
	score float64
}

// Select scores catalog against input and returns a deterministic subset:
// every tool marked AlwaysInclude or named in s.AlwaysInclude is kept
// unconditionally; the remainder are ranked by keyword overlap and the
// top scorers fill the remaining budget up to MaxTools.
func (s *Selector) Select(input string, catalog []kernel.ToolDescriptor) Result {
	maxTools := s.MaxTools
	if maxTools <= 0 {
		maxTools = DefaultMaxTools
	}

	inputTokens := tokenize(input)

	var forced []kernel.ToolDescriptor
	var candidates []scored
	for _, t := range catalog {
		if t.AlwaysInclude || s.AlwaysInclude[t.Name] {
			forced = append(forced, t)
			continue
		}
		candidates = append(candidates, scored{tool: t, score: keywordScore(inputTokens, t.Keywords)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	budget := maxTools - len(forced)
	if budget < 0 {
		budget = 0
	}

	var topScore float64
	selected := make([]kernel.ToolDescriptor, 0, maxTools)
	selected = append(selected, forced...)
	var categories []string
	categorySet := map[string]bool{}
	for i, c := range candidates {
		if i == 0 {
			topScore = c.score
		}
		if i >= budget || c.score <= 0 {
			break
		}
		selected = append(selected, c.tool)
		if cat, ok := s.Categories[c.tool.Name]; ok && !categorySet[cat] {
			categorySet[cat] = true
			categories = append(categories, cat)
		}
	}

	return Result{
		Tools:      selected,
		Confidence: topScore,
		Categories: categories,
	}
}

func keywordScore(inputTokens map[string]bool, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range keywords {
		if inputTokens[strings.ToLower(kw)] {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func tokenize(input string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(input)) {
		w = strings.Trim(w, ".,;:!?\"'()-[]{}")
		if w != "" {
			out[w] = true
		}
	}
	return out
}

// AutoDiscoveryHint returns a System-message-safe text block nudging the
// model to ask for more tools by name when confidence is below threshold.
// Phrased as a prefix rather than a separate turn so a Gemini-shaped
// adapter can fold it into the existing system instruction without
// breaking strict role alternation.
func AutoDiscoveryHint(result Result, threshold float64) string {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if result.Confidence >= threshold {
		return ""
	}
	return "Note: only a subset of available tools is shown based on your request. " +
		"If you need a capability not listed, describe what you're trying to do and the full tool catalog can be consulted."
}
