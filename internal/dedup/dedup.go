package dedup

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/hyperjump/kioku/internal/models"
)

// Default thresholds. Both came out of the original tuning with no
// documented empirical basis, so they stay configurable.
const (
	DefaultSimilarityThreshold   = 0.90
	DefaultMaxFuzzyContentLength = 1000
)

// Options configures deduplication.
type Options struct {
	// SimilarityThreshold is the fuzzy-match ratio at or above which two
	// items count as duplicates.
	SimilarityThreshold float64
	// MaxFuzzyContentLength exempts longer content from the pairwise
	// fuzzy phase. This is a deliberate performance bound: the fuzzy
	// phase is O(n²) in item count and quadratic again in content
	// length, and the target scale is tens to low hundreds of items.
	MaxFuzzyContentLength int
}

func (o Options) withDefaults() Options {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.MaxFuzzyContentLength <= 0 {
		o.MaxFuzzyContentLength = DefaultMaxFuzzyContentLength
	}
	return o
}

// canonicalKeyFields is the probe order for the metadata fields that link
// duplicates: the cross-source reference id first, then the physical
// artifact path, then content/commit hashes, then the source-local id.
var canonicalKeyFields = []string{"ghap_id", "file_path", "sha", "content_hash", "id"}

// canonicalKey returns the item's duplicate-group key, or "" when the
// item carries none of the known identifiers. Keys are namespaced by
// field so a path never collides with a hash of the same spelling.
func canonicalKey(item models.ContextItem) string {
	for _, field := range canonicalKeyFields {
		if v, ok := item.Metadata[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return fmt.Sprintf("%s:%s", field, s)
			}
		}
	}
	return ""
}

// Deduplicate reduces a pooled batch to one representative per duplicate
// group and returns the survivors sorted by relevance descending.
//
// Two phases: exact grouping by canonical metadata key (highest relevance
// wins, first seen wins ties), then pairwise fuzzy matching restricted to
// items whose content fits under MaxFuzzyContentLength. Idempotent.
func Deduplicate(items []models.ContextItem, opts Options) []models.ContextItem {
	opts = opts.withDefaults()
	if len(items) == 0 {
		return nil
	}

	// Phase 1: exact key groups.
	byKey := make(map[string]int) // key -> index into survivors
	survivors := make([]models.ContextItem, 0, len(items))
	for _, item := range items {
		key := canonicalKey(item)
		if key == "" {
			survivors = append(survivors, item)
			continue
		}
		if idx, seen := byKey[key]; seen {
			if item.Relevance > survivors[idx].Relevance {
				survivors[idx] = item
			}
			continue
		}
		byKey[key] = len(survivors)
		survivors = append(survivors, item)
	}

	// Phase 2: pairwise fuzzy matching among short-content survivors.
	// The length bound counts runes, same as the distance itself.
	dropped := make([]bool, len(survivors))
	for i := 0; i < len(survivors); i++ {
		if dropped[i] || utf8.RuneCountInString(survivors[i].Content) > opts.MaxFuzzyContentLength {
			continue
		}
		for j := i + 1; j < len(survivors); j++ {
			if dropped[j] || utf8.RuneCountInString(survivors[j].Content) > opts.MaxFuzzyContentLength {
				continue
			}
			if similarityRatio(survivors[i].Content, survivors[j].Content) >= opts.SimilarityThreshold {
				if survivors[j].Relevance > survivors[i].Relevance {
					dropped[i] = true
					break
				}
				dropped[j] = true
			}
		}
	}

	out := make([]models.ContextItem, 0, len(survivors))
	for i, item := range survivors {
		if !dropped[i] {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}
