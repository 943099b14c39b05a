package contextpack

import (
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func expItem(content, axis string) models.ContextItem {
	return models.ContextItem{
		Source:   models.SourceExperience,
		Content:  content,
		Metadata: map[string]any{"axis": axis},
	}
}

func TestAssemblePremortem_GroupsByAxis(t *testing.T) {
	items := []models.ContextItem{
		expItem("deploy failed on friday", "full"),
		expItem("latency dropped after rollback", "surprise"),
		expItem("connection pool exhaustion", "root_cause"),
		expItem("stage rollouts by region", "strategy"),
	}
	doc, stats := AssemblePremortem(items, Options{MaxTokens: 2000})

	if !strings.HasPrefix(doc, "# Premortem (4 experiences considered)") {
		t.Errorf("wrong header:\n%s", doc)
	}
	for _, title := range []string{"## Common Failures", "## Unexpected Outcomes", "## Root Causes", "## Relevant Principles"} {
		if !strings.Contains(doc, title) {
			t.Errorf("missing section %q:\n%s", title, doc)
		}
	}
	// Sections render in the fixed axis order.
	if strings.Index(doc, "## Common Failures") > strings.Index(doc, "## Root Causes") {
		t.Error("sections out of order")
	}
	if stats.ItemCount != 4 {
		t.Errorf("got %+v", stats)
	}
	if stats.TokenCount > 2000 {
		t.Errorf("token count %d exceeds budget", stats.TokenCount)
	}
}

func TestAssemblePremortem_UnknownAxisFallsIntoFull(t *testing.T) {
	items := []models.ContextItem{
		expItem("something odd", "weird_axis"),
		{Source: models.SourceExperience, Content: "untagged"},
	}
	doc, stats := AssemblePremortem(items, Options{MaxTokens: 1000})
	if !strings.Contains(doc, "# Premortem (2 experiences considered)") {
		t.Errorf("wrong count:\n%s", doc)
	}
	if !strings.Contains(doc, "## Common Failures") {
		t.Errorf("untagged items should land in Common Failures:\n%s", doc)
	}
	if strings.Count(doc, "## ") != 1 {
		t.Errorf("expected a single section:\n%s", doc)
	}
	if stats.ItemCount != 2 {
		t.Errorf("got %+v", stats)
	}
}

func TestAssemblePremortem_IgnoresNonExperience(t *testing.T) {
	items := []models.ContextItem{
		{Source: models.SourceMemory, Content: "a memory"},
		{Source: models.SourceCode, Content: "code"},
		expItem("only this counts", "full"),
	}
	doc, stats := AssemblePremortem(items, Options{MaxTokens: 1000})
	if !strings.Contains(doc, "(1 experiences considered)") {
		t.Errorf("non-experience items counted:\n%s", doc)
	}
	if strings.Contains(doc, "a memory") {
		t.Errorf("non-experience item rendered:\n%s", doc)
	}
	if stats.ItemCount != 1 {
		t.Errorf("got %+v", stats)
	}
}

func TestAssemblePremortem_EmptyInput(t *testing.T) {
	doc, stats := AssemblePremortem(nil, Options{MaxTokens: 1000})
	if !strings.HasPrefix(doc, "# Premortem (0 experiences considered)") {
		t.Errorf("got %q", doc)
	}
	if stats.ItemCount != 0 {
		t.Errorf("got %+v", stats)
	}
}

func TestAssemblePremortem_BudgetSmallerThanHeader(t *testing.T) {
	items := []models.ContextItem{expItem("deploy failed on friday", "full")}
	doc, stats := AssemblePremortem(items, Options{MaxTokens: 5})
	if doc != "" {
		t.Errorf("expected empty document, got %q", doc)
	}
	if stats.TokenCount > 5 {
		t.Errorf("token count %d exceeds budget", stats.TokenCount)
	}
	if !stats.Truncated {
		t.Error("expected truncated")
	}
}
