package voiceflow

import "unicode/utf8"

// EstimateTokens estimates the token count for a given text as
// ceil(characters / 4). The estimate is coarse but stable and monotonic
// in the length of the text, which is all the budget logic relies on.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimatePassages returns the summed token estimate of the passage texts.
func EstimatePassages(passages []Passage) int {
	total := 0
	for _, p := range passages {
		total += EstimateTokens(p.Text)
	}
	return total
}
