package contextpack

import "github.com/hyperjump/kioku/internal/models"

// DefaultMaxItemFraction caps a single rendered item at this fraction of
// its source's budget.
const DefaultMaxItemFraction = 0.25

// Allocate splits maxTokens across sources proportionally to their
// integer weights: floor(maxTokens * weight / sum(weights)). Sources with
// non-positive weight get nothing. The flooring guarantees the sum never
// exceeds maxTokens.
func Allocate(weights map[models.Source]int, maxTokens int) map[models.Source]int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	budgets := make(map[models.Source]int, len(weights))
	if total == 0 || maxTokens <= 0 {
		return budgets
	}
	for src, w := range weights {
		if w > 0 {
			budgets[src] = maxTokens * w / total
		}
	}
	return budgets
}
