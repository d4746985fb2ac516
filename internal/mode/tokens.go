package mode

import (
	"companion/pkg/types"
)

// EstimateTokens estimates the token count for a given text using a
// Unicode-aware heuristic: ~4 ASCII characters per token, non-ASCII
// characters weighted conservatively at ~1 per token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// TruncateHistory bounds conversation history for LLM context: entry limit
// first, then token limit, always preserving the most recent entries.
func TruncateHistory(history []types.HistoryEntry, tokenLimit, entryLimit int) []types.HistoryEntry {
	if len(history) == 0 {
		return history
	}

	if entryLimit > 0 && len(history) > entryLimit {
		history = history[len(history)-entryLimit:]
	}

	totalTokens := 0
	for _, entry := range history {
		totalTokens += entry.TokenCount
	}
	for tokenLimit > 0 && totalTokens > tokenLimit && len(history) > 0 {
		totalTokens -= history[0].TokenCount
		history = history[1:]
	}

	return history
}
