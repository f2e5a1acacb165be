package voiceflow

import (
	"sort"
	"strings"
)

// Budget ratios applied to a token limit.
const (
	SkipRatio         = 0.8 // prompts at or under this share of the limit are left alone
	ContextRatio      = 0.6 // condensed context must fit in this share of the limit
	DefaultTokenLimit = 4000
)

// Budget decides how much retrieved context fits into a prompt.
type Budget struct {
	TokenLimit int
}

// FitResult is the outcome of fitting passages into a budget.
type FitResult struct {
	Passages        []Passage
	Condensed       bool
	EstimatedTokens int // estimate of the full prompt before condensation
}

// Fit returns the passages to use for a prompt made of overheadTokens
// (system instructions, history), the query and the passages.
// When the full prompt estimate is within SkipRatio of the limit the
// passages are returned as-is; otherwise they are condensed.
func (b Budget) Fit(passages []Passage, query string, overheadTokens int) FitResult {
	limit := b.TokenLimit
	if limit <= 0 {
		limit = DefaultTokenLimit
	}

	total := overheadTokens + EstimateTokens(query) + EstimatePassages(passages)
	if float64(total) <= SkipRatio*float64(limit) {
		return FitResult{Passages: passages, EstimatedTokens: total}
	}

	return FitResult{
		Passages:        condense(passages, query, limit),
		Condensed:       true,
		EstimatedTokens: total,
	}
}

// Condense reduces passages so that their estimated tokens fit in
// ContextRatio of tokenLimit. Passages totalling at most SkipRatio of the
// limit are returned unchanged.
func Condense(passages []Passage, query string, tokenLimit int) []Passage {
	if float64(EstimatePassages(passages)) <= SkipRatio*float64(tokenLimit) {
		return passages
	}
	return condense(passages, query, tokenLimit)
}

func condense(passages []Passage, query string, tokenLimit int) []Passage {
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		passage Passage
		score   int
	}
	ranked := make([]scored, len(passages))
	for i, p := range passages {
		ranked[i] = scored{passage: p, score: termOverlap(p.Text, terms)}
	}
	// Ties keep retrieval order, so zero overlap everywhere degrades to
	// retrieval order rather than an empty context.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	budget := int(ContextRatio * float64(tokenLimit))
	used := 0
	result := make([]Passage, 0, len(ranked))
	for _, r := range ranked {
		cost := EstimateTokens(r.passage.Text)
		if used+cost > budget {
			break
		}
		used += cost
		result = append(result, r.passage)
	}
	return result
}

// termOverlap counts the query terms contained in text, case-insensitively.
func termOverlap(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			n++
		}
	}
	return n
}
