package voiceflow

import "time"

// DefaultHistoryCap is the maximum number of turns kept for a live session.
const DefaultHistoryCap = 20

// AppendTurn appends a turn to the conversation history with an estimated token count.
func AppendTurn(history []Turn, role Role, content string) []Turn {
	return append(history, Turn{
		Role:       role,
		Content:    content,
		TokenCount: EstimateTokens(content),
		Timestamp:  time.Now(),
	})
}

// TruncateHistory keeps the most recent limit turns, evicting the oldest first.
// The returned slice never aliases the evicted prefix, so the backing array of
// a long-running session does not grow without bound.
func TruncateHistory(history []Turn, limit int) []Turn {
	if limit <= 0 {
		return history[:0]
	}
	if len(history) <= limit {
		return history
	}
	kept := make([]Turn, limit)
	copy(kept, history[len(history)-limit:])
	return kept
}

// TruncateHistoryTokens truncates the history based on token and message limits.
// It applies the message limit first, then the token limit, removing oldest turns as needed.
func TruncateHistoryTokens(history []Turn, tokenLimit, messageLimit int) []Turn {
	if len(history) == 0 {
		return history
	}

	if len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}

	totalTokens := 0
	for _, t := range history {
		totalTokens += t.TokenCount
	}

	for totalTokens > tokenLimit && len(history) > 0 {
		totalTokens -= history[0].TokenCount
		history = history[1:]
	}

	return history
}

// HistoryTokens sums the token estimates of the turns.
func HistoryTokens(history []Turn) int {
	total := 0
	for _, t := range history {
		total += t.TokenCount
	}
	return total
}
