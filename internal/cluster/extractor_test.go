package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/store"
)

func seedBlobs(t *testing.T, s store.Store, collection string, distance models.Distance) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateCollection(ctx, collection, 2, distance); err != nil {
		t.Fatal(err)
	}
	blobs := [][]float32{
		{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1}, {0.05, 0.05},
		{10, 10}, {10.1, 10}, {10, 10.1}, {10.1, 10.1}, {10.05, 10.05},
	}
	for i, vec := range blobs {
		payload := map[string]any{"confidence_tier": "gold"}
		if err := s.Upsert(ctx, collection, fmt.Sprintf("p%d", i), vec, payload); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtract_TwoBlobs(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	seedBlobs(t, s, "axis", models.DistanceEuclidean)

	e := NewExtractor(s, Config{MinClusterSize: 3, MinSamples: 3}, nil)
	clusters, err := e.Extract(context.Background(), "axis")
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	seen := make(map[string]bool)
	for _, c := range clusters {
		if c.Size != 5 || len(c.MemberIDs) != 5 {
			t.Errorf("cluster %d: size %d, members %d", c.Label, c.Size, len(c.MemberIDs))
		}
		if c.AvgWeight != 1.0 {
			t.Errorf("all-gold cluster should average 1.0, got %f", c.AvgWeight)
		}
		for _, id := range c.MemberIDs {
			if seen[id] {
				t.Errorf("id %s in two clusters", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("clusters do not partition the points: %d ids", len(seen))
	}
}

func TestExtract_EmptyCollection(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	if err := s.CreateCollection(context.Background(), "axis", 2, models.DistanceCosine); err != nil {
		t.Fatal(err)
	}
	e := NewExtractor(s, Config{}, nil)
	_, err := e.Extract(context.Background(), "axis")
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestExtract_MissingCollection(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	e := NewExtractor(s, Config{}, nil)
	_, err := e.Extract(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExtract_AllNoiseIsSuccess(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "axis", 2, models.DistanceEuclidean); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_ = s.Upsert(ctx, "axis", fmt.Sprintf("p%d", i), []float32{float32(i), float32(i)}, nil)
	}
	e := NewExtractor(s, Config{MinClusterSize: 10}, nil)
	clusters, err := e.Extract(ctx, "axis")
	if err != nil {
		t.Fatalf("all-noise must not be an error: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("expected no clusters, got %d", len(clusters))
	}
}

func TestExtract_WeightedCentroid(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "axis", 2, models.DistanceEuclidean); err != nil {
		t.Fatal(err)
	}
	// Two two-point blobs; the first mixes a gold and an abandoned record
	// so its centroid leans toward the gold one.
	_ = s.Upsert(ctx, "axis", "gold", []float32{0, 0}, map[string]any{"confidence_tier": "gold"})
	_ = s.Upsert(ctx, "axis", "abandoned", []float32{0.2, 0}, map[string]any{"confidence_tier": "abandoned"})
	_ = s.Upsert(ctx, "axis", "far1", []float32{10, 10}, map[string]any{"confidence_tier": "gold"})
	_ = s.Upsert(ctx, "axis", "far2", []float32{10.2, 10}, map[string]any{"confidence_tier": "gold"})

	e := NewExtractor(s, Config{MinClusterSize: 2, MinSamples: 1}, nil)
	clusters, err := e.Extract(ctx, "axis")
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	var mixed *models.ClusterInfo
	for i := range clusters {
		for _, id := range clusters[i].MemberIDs {
			if id == "gold" {
				mixed = &clusters[i]
			}
		}
	}
	if mixed == nil {
		t.Fatal("mixed cluster not found")
	}
	// (1.0*0 + 0.2*0.2) / 1.2
	want := float64(0.2*0.2) / 1.2
	if math.Abs(float64(mixed.Centroid[0])-want) > 1e-4 {
		t.Errorf("centroid[0] = %f, want %f", mixed.Centroid[0], want)
	}
	if math.Abs(float64(mixed.Centroid[1])) > 1e-6 {
		t.Errorf("centroid[1] = %f, want 0", mixed.Centroid[1])
	}
	if math.Abs(float64(mixed.AvgWeight)-0.6) > 1e-4 {
		t.Errorf("avg weight = %f, want 0.6", mixed.AvgWeight)
	}
}

func TestExtract_CosineCentroidsUseOriginalVectors(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "axis", 2, models.DistanceCosine); err != nil {
		t.Fatal(err)
	}
	// Same direction, very different magnitudes: these cluster together
	// only after normalization, but the centroid must come from the raw
	// vectors.
	_ = s.Upsert(ctx, "axis", "a1", []float32{1, 0}, nil)
	_ = s.Upsert(ctx, "axis", "a2", []float32{10, 0.1}, nil)
	_ = s.Upsert(ctx, "axis", "b1", []float32{0, 1}, nil)
	_ = s.Upsert(ctx, "axis", "b2", []float32{0.05, 8}, nil)

	e := NewExtractor(s, Config{MinClusterSize: 2, MinSamples: 1}, nil)
	clusters, err := e.Extract(ctx, "axis")
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	var horizontal *models.ClusterInfo
	for i := range clusters {
		for _, id := range clusters[i].MemberIDs {
			if id == "a1" {
				horizontal = &clusters[i]
			}
		}
	}
	if horizontal == nil || len(horizontal.MemberIDs) != 2 {
		t.Fatalf("direction-aligned vectors did not cluster: %+v", clusters)
	}
	// Untiered weight is uniform, so the centroid is the plain mean of
	// the original vectors: ((1+10)/2, (0+0.1)/2).
	if math.Abs(float64(horizontal.Centroid[0])-5.5) > 1e-4 {
		t.Errorf("centroid[0] = %f, want 5.5", horizontal.Centroid[0])
	}
}

func TestExtract_ZeroWeightFails(t *testing.T) {
	s := store.NewMemoryStore(0, nil)
	seedBlobs(t, s, "axis", models.DistanceEuclidean)

	e := NewExtractor(s, Config{
		MinClusterSize: 3,
		MinSamples:     3,
		TierWeights:    map[string]float64{"gold": 0},
	}, nil)
	_, err := e.Extract(context.Background(), "axis")
	if !errors.Is(err, ErrComputation) {
		t.Errorf("expected ErrComputation, got %v", err)
	}
}
