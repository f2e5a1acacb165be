package voiceflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func passageOf(tokens int, word string) Passage {
	// Each token is four characters.
	return Passage{Text: strings.Repeat(word[:1], tokens*4-len(word)) + word}
}

func TestCondense_SkipsWhenUnderThreshold(t *testing.T) {
	passages := []Passage{{Text: "refunds are issued within 30 days"}, {Text: "shipping takes a week"}}
	got := Condense(passages, "refund policy", 1000)
	assert.Equal(t, passages, got)
}

func TestCondense_RanksByQueryOverlap(t *testing.T) {
	passages := []Passage{
		passageOf(30, "shipping"),
		passageOf(30, "refund policy"),
		passageOf(30, "warranty"),
	}

	// Total 90 tokens against a limit of 100: over 80, condensed to 60.
	got := Condense(passages, "Refund POLICY", 100)
	require.Len(t, got, 2)
	assert.Equal(t, passages[1], got[0])
	assert.Equal(t, passages[0], got[1], "ties keep retrieval order")
}

func TestCondense_StopsAtFirstOverflow(t *testing.T) {
	passages := []Passage{
		passageOf(50, "refund"),
		passageOf(20, "other"),
		passageOf(5, "small"),
	}

	// 75 tokens exceed 72, budget is 54: 50 fits, 20 would overflow, so 5 is never considered.
	got := Condense(passages, "refund", 90)
	require.Len(t, got, 1)
	assert.Equal(t, passages[0], got[0])
}

func TestCondense_ZeroOverlapKeepsRetrievalOrder(t *testing.T) {
	passages := []Passage{passageOf(25, "alpha"), passageOf(25, "bravo"), passageOf(25, "charl")}

	got := Condense(passages, "unrelated words", 80)
	require.Len(t, got, 1)
	assert.Equal(t, passages[0], got[0])
}

func TestBudget_Fit(t *testing.T) {
	passages := []Passage{passageOf(30, "refund"), passageOf(30, "shipping")}

	t.Run("skipped under threshold", func(t *testing.T) {
		res := Budget{TokenLimit: 100}.Fit(passages, "", 0)
		assert.False(t, res.Condensed)
		assert.Equal(t, passages, res.Passages)
		assert.Equal(t, 60, res.EstimatedTokens)
	})

	t.Run("overhead triggers condensation", func(t *testing.T) {
		res := Budget{TokenLimit: 100}.Fit(passages, "refund", 30)
		assert.True(t, res.Condensed)
		assert.Equal(t, 30+EstimateTokens("refund")+60, res.EstimatedTokens)
		require.Len(t, res.Passages, 2)
		assert.Equal(t, passages[0], res.Passages[0])
	})

	t.Run("zero limit uses default", func(t *testing.T) {
		res := Budget{}.Fit(passages, "refund", 0)
		assert.False(t, res.Condensed)
	})
}

func TestCondense_ThresholdProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(10, 2000).Draw(t, "limit")
		texts := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,400}`), 0, 12).Draw(t, "texts")
		query := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "query")

		passages := make([]Passage, len(texts))
		for i, text := range texts {
			passages[i] = Passage{Text: text}
		}

		total := EstimatePassages(passages)
		got := Condense(passages, query, limit)

		if float64(total) <= SkipRatio*float64(limit) {
			if len(got) != len(passages) {
				t.Fatalf("under threshold: got %d passages, want %d", len(got), len(passages))
			}
			for i := range got {
				if got[i] != passages[i] {
					t.Fatalf("under threshold: passage %d changed", i)
				}
			}
			return
		}

		if used := EstimatePassages(got); float64(used) > ContextRatio*float64(limit) {
			t.Fatalf("condensed to %d tokens, budget %.1f", used, ContextRatio*float64(limit))
		}
	})
}
