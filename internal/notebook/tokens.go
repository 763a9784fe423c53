package notebook

import (
	"math"
	"strings"
)

// EstimateTokens approximates the token count of text. One token per four
// characters tracks the tokenizers in play closely enough for budgeting.
func EstimateTokens(text string) int {
	return int(math.Round(float64(len(text)) / 4))
}

// ReadingTime converts a token count to minutes at 200 tokens/minute, rounded
// to one decimal.
func ReadingTime(tokens int) float64 {
	return math.Round(float64(tokens)/200*10) / 10
}

// SectionTokens estimates the tokens across a section's cells.
func SectionTokens(s *Section) int {
	parts := make([]string, len(s.Content))
	for i, cell := range s.Content {
		parts[i] = cell.Source
	}
	return EstimateTokens(strings.Join(parts, "\n"))
}
