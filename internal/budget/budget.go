// Package budget provides token budget estimation and context trimming for
// answer generation. Because the pipeline supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code). This
// deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimPassages drops retrieved passages from the end of the slice until the
// total estimated token count of reserved + passages fits within maxTokens.
// Passages arrive ranked by relevance, so the tail (lowest-scoring) entries
// are sacrificed first and the best matches always survive.
//
// reserved is the token cost of everything else in the prompt (instructions,
// question, formatting). If even a single passage does not fit, the empty
// slice is returned.
func TrimPassages(passages []string, reserved, maxTokens int) []string {
	for len(passages) > 0 {
		total := reserved
		for _, p := range passages {
			total += Estimate(p)
		}
		if total <= maxTokens {
			break
		}
		passages = passages[:len(passages)-1]
	}
	return passages
}
