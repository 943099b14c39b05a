// Package contextpack turns deduplicated, per-source context items into a
// single rendered markdown document bounded by a token budget.
package contextpack

import (
	"math"
	"strings"
)

// TokenEstimator approximates the token count of a text. Estimators must
// return 0 for empty or whitespace-only input.
type TokenEstimator func(text string) int

// CharEstimator estimates one token per four characters, floored.
func CharEstimator(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(text) / 4
}

// WordEstimator estimates round(words * 1.3), the 30% overhead covering
// sub-word tokenization.
func WordEstimator(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return int(math.Round(float64(len(words)) * 1.3))
}
