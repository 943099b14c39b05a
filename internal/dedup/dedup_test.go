package dedup

import (
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func item(src models.Source, content string, relevance float32, meta map[string]any) models.ContextItem {
	return models.ContextItem{Source: src, Content: content, Relevance: relevance, Metadata: meta}
}

func TestDeduplicate_ExactKeyHighestRelevanceWins(t *testing.T) {
	items := []models.ContextItem{
		item(models.SourceExperience, "first take", 0.8, map[string]any{"ghap_id": "ghap_123"}),
		item(models.SourceExperience, "second take", 0.9, map[string]any{"ghap_id": "ghap_123"}),
	}
	out := Deduplicate(items, Options{})
	if len(out) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(out))
	}
	if out[0].Relevance != 0.9 {
		t.Errorf("expected the 0.9 item to survive, got %f", out[0].Relevance)
	}
}

func TestDeduplicate_KeyProbeOrder(t *testing.T) {
	// ghap_id takes precedence over file_path, so these two group
	// together even though their paths differ.
	items := []models.ContextItem{
		item(models.SourceCode, "a", 0.5, map[string]any{"ghap_id": "g1", "file_path": "x.go"}),
		item(models.SourceCode, "completely different content here", 0.7, map[string]any{"ghap_id": "g1", "file_path": "y.go"}),
	}
	out := Deduplicate(items, Options{})
	if len(out) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(out))
	}
	if out[0].Relevance != 0.7 {
		t.Errorf("wrong survivor: %+v", out[0])
	}
}

func TestDeduplicate_KeysAreNamespaced(t *testing.T) {
	// The same spelling under different fields must not collide.
	items := []models.ContextItem{
		item(models.SourceCode, "short a", 0.5, map[string]any{"file_path": "abc123"}),
		item(models.SourceCommit, "unrelated commit message entirely", 0.6, map[string]any{"sha": "abc123"}),
	}
	out := Deduplicate(items, Options{})
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
}

func TestDeduplicate_FuzzyNearDuplicates(t *testing.T) {
	items := []models.ContextItem{
		item(models.SourceMemory, "we decided to keep payloads schemaless", 0.6, nil),
		item(models.SourceMemory, "we decided to keep payloads schemaless!", 0.8, nil),
		item(models.SourceMemory, "clustering runs off the request path", 0.7, nil),
	}
	out := Deduplicate(items, Options{})
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	if out[0].Relevance != 0.8 || out[1].Relevance != 0.7 {
		t.Errorf("wrong survivors or order: %+v", out)
	}
}

func TestDeduplicate_LongContentSkipsFuzzyPhase(t *testing.T) {
	long := strings.Repeat("x", 1001)
	almostSame := long[:1000] + "y"
	items := []models.ContextItem{
		item(models.SourceCode, long, 0.5, nil),
		item(models.SourceCode, almostSame, 0.6, nil),
	}
	out := Deduplicate(items, Options{})
	if len(out) != 2 {
		t.Fatalf("content over the fuzzy length bound must not be compared, got %d survivors", len(out))
	}

	// At exactly the bound the fuzzy phase applies.
	atBound := strings.Repeat("x", 1000)
	almost := atBound[:999] + "y"
	out = Deduplicate([]models.ContextItem{
		item(models.SourceCode, atBound, 0.5, nil),
		item(models.SourceCode, almost, 0.6, nil),
	}, Options{})
	if len(out) != 1 {
		t.Fatalf("expected fuzzy dedup at the length bound, got %d survivors", len(out))
	}
}

func TestDeduplicate_SortedByRelevanceDescending(t *testing.T) {
	items := []models.ContextItem{
		item(models.SourceMemory, "low", 0.1, nil),
		item(models.SourceCode, "high relevance item", 0.9, nil),
		item(models.SourceValue, "middle item", 0.5, nil),
	}
	out := Deduplicate(items, Options{})
	if len(out) != 3 {
		t.Fatalf("expected 3, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Relevance > out[i-1].Relevance {
			t.Fatalf("not sorted descending: %+v", out)
		}
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	items := []models.ContextItem{
		item(models.SourceExperience, "we saw the cache invalidate early", 0.8, map[string]any{"ghap_id": "g1"}),
		item(models.SourceExperience, "we saw the cache invalidate early!", 0.7, nil),
		item(models.SourceMemory, "unrelated memory", 0.5, nil),
	}
	once := Deduplicate(items, Options{})
	twice := Deduplicate(once, Options{})
	if len(once) != len(twice) {
		t.Fatalf("not idempotent: %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Errorf("item %d changed across runs", i)
		}
	}
}

func TestDeduplicate_Empty(t *testing.T) {
	if out := Deduplicate(nil, Options{}); out != nil {
		t.Errorf("expected nil for empty input, got %v", out)
	}
}

func TestDeduplicate_ThresholdConfigurable(t *testing.T) {
	a := "abcdefghij"
	b := "abcdefghiX" // ratio 0.9
	items := []models.ContextItem{
		item(models.SourceMemory, a, 0.6, nil),
		item(models.SourceMemory, b, 0.5, nil),
	}
	// At the default 0.90 threshold these merge.
	out := Deduplicate(items, Options{})
	if len(out) != 1 {
		t.Fatalf("expected merge at default threshold, got %d", len(out))
	}
	// A stricter threshold keeps them apart.
	out = Deduplicate(items, Options{SimilarityThreshold: 0.95})
	if len(out) != 2 {
		t.Fatalf("expected 2 at 0.95 threshold, got %d", len(out))
	}
}

func TestDeduplicate_FuzzyCutoffCountsRunes(t *testing.T) {
	// 10 runes but 30 bytes: still inside a 10-character cutoff, so the
	// fuzzy phase applies and the near-duplicates merge.
	a := strings.Repeat("ば", 10)
	b := strings.Repeat("ば", 9) + "ぱ" // ratio 0.9
	items := []models.ContextItem{
		item(models.SourceMemory, a, 0.6, nil),
		item(models.SourceMemory, b, 0.5, nil),
	}
	out := Deduplicate(items, Options{MaxFuzzyContentLength: 10})
	if len(out) != 1 {
		t.Fatalf("expected merge, got %d survivors", len(out))
	}
	if out[0].Relevance != 0.6 {
		t.Errorf("wrong survivor: %+v", out[0])
	}
}
