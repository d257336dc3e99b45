// Package tokencount estimates token counts for provider messages so the
// context manager and cost guard can budget against a model's context
// window without waiting on a round trip's usage field.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenCounter estimates the token count of a string for one model family.
type TokenCounter interface {
	Count(text string) int
}

// heuristicCounter approximates token count as roughly 4 bytes per token,
// the same ballpark tiktoken produces for English prose, used when a
// model's exact encoding is unknown (non-OpenAI-family models, or a brand
// new model id tiktoken-go hasn't shipped an encoding for yet).
type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// tiktokenCounter wraps a tiktoken-go encoding for accurate BPE counts
// against OpenAI-family models.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

var (
	mu    sync.Mutex
	cache = map[string]TokenCounter{}
)

// ForModel resolves a TokenCounter for model, caching the result. Models
// tiktoken-go recognizes (the gpt/o-series family and anything sharing
// their cl100k/o200k vocabulary) get an exact counter; everything else
// (Claude, Gemini, local open-weight models) falls back to the heuristic,
// which is conservative enough for budget checks even though it is not
// exact for non-BPE tokenizers.
func ForModel(model string) TokenCounter {
	mu.Lock()
	defer mu.Unlock()

	if c, ok := cache[model]; ok {
		return c
	}

	c := resolve(model)
	cache[model] = c
	return c
}

func resolve(model string) TokenCounter {
	if !looksLikeOpenAIFamily(model) {
		return heuristicCounter{}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model id within an otherwise OpenAI-shaped deployment
		// (e.g. a fine-tune suffix tiktoken-go doesn't recognize) —
		// cl100k_base is the closest general-purpose encoding.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Str("model", model).Msg("tokencount: falling back to heuristic counter")
			return heuristicCounter{}
		}
	}
	return tiktokenCounter{enc: enc}
}

func looksLikeOpenAIFamily(model string) bool {
	lower := strings.ToLower(model)
	prefixes := []string{"gpt-", "o1", "o3", "o4", "chatgpt", "text-embedding", "davinci", "curie"}
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// CountMessages sums the counter's estimate across role, content, and
// reasoning text, plus a small fixed overhead per message for the wire
// format's role/delimiter tokens. Tool call arguments are counted as
// plain text since they are valid JSON and tokenize similarly to prose.
func CountMessages(counter TokenCounter, texts []string) int {
	const perMessageOverhead = 4
	total := 0
	for _, t := range texts {
		total += counter.Count(t) + perMessageOverhead
	}
	return total
}
