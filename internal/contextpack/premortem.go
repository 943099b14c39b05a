package contextpack

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// Premortem sub-axis tags and the sections they render into.
const (
	AxisFull      = "full"
	AxisSurprise  = "surprise"
	AxisRootCause = "root_cause"
	AxisStrategy  = "strategy"
)

var premortemOrder = []string{AxisFull, AxisSurprise, AxisRootCause, AxisStrategy}

var premortemTitles = map[string]string{
	AxisFull:      "Common Failures",
	AxisSurprise:  "Unexpected Outcomes",
	AxisRootCause: "Root Causes",
	AxisStrategy:  "Relevant Principles",
}

// AssemblePremortem is the alternate assembly mode: instead of grouping
// by source, experience items are regrouped by their sub-axis tag into
// labeled sections, headed by the count of experiences considered.
// Non-experience items are ignored; items without a recognized axis tag
// fall into the "full" section.
func AssemblePremortem(items []models.ContextItem, opts Options) (string, Stats) {
	opts = opts.withDefaults()

	groups := make(map[string][]models.ContextItem)
	considered := 0
	for _, item := range items {
		if item.Source != models.SourceExperience {
			continue
		}
		axis := metaString(item.Metadata, "axis")
		if _, known := premortemTitles[axis]; !known {
			axis = AxisFull
		}
		groups[axis] = append(groups[axis], item)
		considered++
	}

	var doc strings.Builder
	var stats Stats
	header := fmt.Sprintf("# Premortem (%d experiences considered)\n\n", considered)
	headerTokens := opts.Estimator(header)
	if headerTokens > opts.MaxTokens {
		// Same rule as a section whose header does not fit: omit it
		// rather than report a count above the budget.
		stats.Truncated = true
		return "", stats
	}
	doc.WriteString(header)
	stats.TokenCount += headerTokens

	remaining := opts.MaxTokens - headerTokens
	// Each populated section gets an equal share of what is left.
	populated := 0
	for _, axis := range premortemOrder {
		if len(groups[axis]) > 0 {
			populated++
		}
	}
	if populated == 0 {
		return strings.TrimRight(doc.String(), "\n"), stats
	}
	share := remaining / populated

	for _, axis := range premortemOrder {
		list := groups[axis]
		if len(list) == 0 {
			continue
		}
		sectionHeader := "## " + premortemTitles[axis] + "\n\n"
		sectionTokens := opts.Estimator(sectionHeader)
		rendered, used, sectionStats := assembleSection(list, share-sectionTokens, opts)
		if len(rendered) == 0 {
			if sectionStats.Truncated {
				stats.Truncated = true
			}
			continue
		}
		doc.WriteString(sectionHeader)
		for _, block := range rendered {
			doc.WriteString(block)
			doc.WriteString("\n\n")
		}
		stats.TokenCount += used + sectionTokens
		stats.ItemCount += sectionStats.ItemCount
		stats.Truncated = stats.Truncated || sectionStats.Truncated
	}
	return strings.TrimRight(doc.String(), "\n"), stats
}
