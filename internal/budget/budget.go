// Package budget provides token budget estimation and passage trimming for
// answer prompts. Because the generator supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English prose; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// passageOverhead approximates the tokens spent on the numbering and
	// separators that surround each passage in the rendered prompt.
	passageOverhead = 2

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B, GPT-3.5)
	// while leaving room for the output.
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

// EstimatePassages returns the estimated token cost of passages once they
// are rendered into the prompt context block.
func EstimatePassages(passages []string) int {
	total := 0
	for _, p := range passages {
		total += passageOverhead + Estimate(p)
	}
	return total
}

// TrimPassages drops passages from the end (lowest-ranked first) until
// overheadTokens plus the estimated cost of the remaining passages fits within
// maxTokens. overheadTokens covers everything in the prompt that is not a
// passage: system instructions and the question.
//
// The first passage is always kept, even when it alone exceeds the budget;
// an answer grounded in one oversized passage beats an answer grounded in
// none. A maxTokens of zero or less disables trimming.
func TrimPassages(overheadTokens int, passages []string, maxTokens int) []string {
	if maxTokens <= 0 || len(passages) <= 1 {
		return passages
	}
	for len(passages) > 1 {
		if overheadTokens+EstimatePassages(passages) <= maxTokens {
			break
		}
		passages = passages[:len(passages)-1]
	}
	return passages
}
