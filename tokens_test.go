package voiceflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single char rounds up", text: "a", want: 1},
		{name: "exact multiple", text: "abcd", want: 1},
		{name: "one over", text: "abcde", want: 2},
		{name: "counts runes not bytes", text: "日本語です", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestEstimatePassages(t *testing.T) {
	passages := []Passage{{Text: "abcd"}, {Text: "abcde"}, {Text: ""}}
	assert.Equal(t, 3, EstimatePassages(passages))
	assert.Equal(t, 0, EstimatePassages(nil))
}
