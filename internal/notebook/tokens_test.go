package notebook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 3, EstimateTokens("abcdefghij")) // 10/4 rounds to 3
	assert.Equal(t, 100, EstimateTokens(strings.Repeat("x", 400)))
}

func TestReadingTime(t *testing.T) {
	assert.Equal(t, 0.0, ReadingTime(0))
	assert.Equal(t, 1.0, ReadingTime(200))
	assert.Equal(t, 1.5, ReadingTime(300))
	assert.Equal(t, 15.0, ReadingTime(3000))
}

func TestSectionTokens_ContentOnly(t *testing.T) {
	s := &Section{
		Content: []Cell{
			{CellType: "markdown", Source: strings.Repeat("a", 400)},
			{CellType: "code", Source: strings.Repeat("b", 399)},
		},
		// Callouts are excluded from the estimate.
		Callouts: []Callout{{Type: "tip", Message: strings.Repeat("c", 4000)}},
	}
	assert.Equal(t, 200, SectionTokens(s)) // 400 + 1 (join) + 399 = 800 chars
}
