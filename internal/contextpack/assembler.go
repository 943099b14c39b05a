package contextpack

import (
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// Options configures assembly.
type Options struct {
	// Weights are per-source integer weights for budget allocation.
	Weights map[models.Source]int
	// MaxTokens bounds the whole document.
	MaxTokens int
	// MaxItemFraction caps a single item at this fraction of its
	// source's budget; <= 0 uses DefaultMaxItemFraction.
	MaxItemFraction float64
	// Estimator is the token estimation method; nil uses CharEstimator.
	Estimator TokenEstimator
}

func (o Options) withDefaults() Options {
	if o.MaxItemFraction <= 0 {
		o.MaxItemFraction = DefaultMaxItemFraction
	}
	if o.Estimator == nil {
		o.Estimator = CharEstimator
	}
	return o
}

// Stats reports what assembly produced.
type Stats struct {
	TokenCount int  `json:"token_count"`
	ItemCount  int  `json:"item_count"`
	Truncated  bool `json:"truncated"`
}

// Assemble renders per-source item lists (post-dedup, pre-sorted by
// relevance) into one markdown document bounded by the token budget.
// Headers and block separators are charged against the budget, so the
// reported token count never exceeds Options.MaxTokens.
func Assemble(items map[models.Source][]models.ContextItem, opts Options) (string, Stats) {
	opts = opts.withDefaults()
	budgets := Allocate(opts.Weights, opts.MaxTokens)

	var doc strings.Builder
	var stats Stats
	for _, src := range sectionOrder {
		list := items[src]
		budget := budgets[src]
		if len(list) == 0 || budget <= 0 {
			if len(list) > 0 {
				stats.Truncated = true
			}
			continue
		}
		// The section header spends from the same budget so the whole
		// document stays under MaxTokens.
		header := "## " + sectionTitles[src] + "\n\n"
		headerTokens := opts.Estimator(header)
		rendered, used, sectionStats := assembleSection(list, budget-headerTokens, opts)
		if len(rendered) == 0 {
			if sectionStats.Truncated {
				stats.Truncated = true
			}
			continue
		}
		doc.WriteString(header)
		for _, block := range rendered {
			doc.WriteString(block)
			doc.WriteString("\n\n")
		}
		stats.TokenCount += used + headerTokens
		stats.ItemCount += sectionStats.ItemCount
		stats.Truncated = stats.Truncated || sectionStats.Truncated
	}
	return strings.TrimRight(doc.String(), "\n"), stats
}

// assembleSection packs one source's items into its budget. Items run in
// relevance order; an oversized item is truncated to the per-item cap,
// never dropped for length alone, and packing stops once the budget is
// spent.
func assembleSection(list []models.ContextItem, budget int, opts Options) ([]string, int, Stats) {
	var stats Stats
	itemCap := int(float64(budget) * opts.MaxItemFraction)
	if itemCap < 1 {
		itemCap = 1
	}
	blocks := make([]string, 0, len(list))
	used := 0
	for _, item := range list {
		block := renderItem(item)
		// The separator between blocks spends from the budget too.
		tokens := opts.Estimator(block + "\n\n")
		if tokens > itemCap {
			block = truncateToTokens(block, itemCap, opts.Estimator)
			tokens = opts.Estimator(block + "\n\n")
			stats.Truncated = true
		}
		if used+tokens > budget {
			stats.Truncated = true
			break
		}
		blocks = append(blocks, block)
		used += tokens
		stats.ItemCount++
	}
	return blocks, used, stats
}

// truncateToTokens shortens text so its estimate fits maxTokens, keeping
// the leading content and appending the truncation marker.
func truncateToTokens(text string, maxTokens int, estimate TokenEstimator) string {
	markerTokens := estimate(truncationMarker)
	keep := maxTokens - markerTokens
	if keep < 1 {
		keep = 1
	}
	// Proportional first cut, then tighten until the estimate fits.
	total := estimate(text)
	if total <= 0 {
		return text
	}
	cut := len(text) * keep / total
	if cut >= len(text) {
		cut = len(text) - 1
	}
	for cut > 1 && estimate(text[:cut]+truncationMarker) > maxTokens {
		step := cut / 4
		if step < 1 {
			step = 1
		}
		cut -= step
	}
	// Avoid splitting a UTF-8 sequence mid-rune.
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut] + truncationMarker
}
