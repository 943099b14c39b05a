// Package cluster extracts confidence-weighted clusters from an axis
// collection of experience vectors.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/store"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Sentinel errors for extraction.
var (
	// ErrNoData means the axis collection holds zero records. Distinct
	// from the all-noise case, which returns an empty, successful result.
	ErrNoData = errors.New("no data to cluster")
	// ErrComputation means a cluster's total weight summed to zero.
	// Unreachable with the default weight table, but checked.
	ErrComputation = errors.New("cluster computation failed")
)

// DefaultTierWeights maps confidence tiers to clustering weights. Records
// without a tier get the mid-range default.
var DefaultTierWeights = map[string]float64{
	"gold":      1.0,
	"silver":    0.7,
	"bronze":    0.4,
	"abandoned": 0.2,
}

// DefaultUntieredWeight applies when a record carries no confidence tier.
const DefaultUntieredWeight = 0.5

// Config holds extraction parameters. Everything is configuration, not
// hardcoded.
type Config struct {
	MinClusterSize  int
	MinSamples      int
	Selection       string // "eom" (default) or "leaf"
	TierWeights     map[string]float64
	UntieredWeight  float64
	ScrollBatchSize int
}

func (c Config) withDefaults() Config {
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = c.MinClusterSize
	}
	if c.Selection == "" {
		c.Selection = SelectionEOM
	}
	if c.TierWeights == nil {
		c.TierWeights = DefaultTierWeights
	}
	if c.UntieredWeight <= 0 {
		c.UntieredWeight = DefaultUntieredWeight
	}
	if c.ScrollBatchSize <= 0 {
		c.ScrollBatchSize = store.DefaultScrollCeiling
	}
	return c
}

// Extractor pulls all vectors for an axis collection, clusters them, and
// computes confidence-weighted centroids.
type Extractor struct {
	store  store.Store
	config Config
	logger *zap.Logger
}

// NewExtractor creates an extractor over the given store.
func NewExtractor(s store.Store, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{store: s, config: cfg.withDefaults(), logger: logger}
}

// Extract clusters the named axis collection and returns one ClusterInfo
// per non-noise label.
//
// Labels come from clustering over vectors that are L2-normalized first
// when the collection's metric is cosine (Euclidean distance over unit
// vectors orders identically to cosine distance). Centroids are computed
// from the ORIGINAL un-normalized vectors: they must be weighted means in
// the embedding space itself, not in the space used merely to decide
// grouping.
func (e *Extractor) Extract(ctx context.Context, axis string) ([]models.ClusterInfo, error) {
	meta, err := e.store.Describe(ctx, axis)
	if err != nil {
		return nil, fmt.Errorf("describe axis collection: %w", err)
	}
	records, err := e.store.Scroll(ctx, axis, e.config.ScrollBatchSize, nil, true)
	if err != nil {
		return nil, fmt.Errorf("scroll axis collection: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: collection %q is empty", ErrNoData, axis)
	}

	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	weights := make([]float64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		vectors[i] = rec.Vector
		weights[i] = e.tierWeight(rec.Payload)
	}

	clusterInput := vectors
	if meta.Distance == models.DistanceCosine {
		clusterInput = normalizeAll(vectors)
	}
	labels := runHDBSCAN(clusterInput, hdbscanParams{
		minClusterSize: e.config.MinClusterSize,
		minSamples:     e.config.MinSamples,
		selection:      e.config.Selection,
	})

	members := make(map[int][]int)
	for i, label := range labels {
		if label >= 0 {
			members[label] = append(members[label], i)
		}
	}
	if len(members) == 0 {
		e.logger.Info("all points labeled noise",
			zap.String("axis", axis),
			zap.Int("points", len(records)))
		return []models.ClusterInfo{}, nil
	}

	labelsSorted := make([]int, 0, len(members))
	for label := range members {
		labelsSorted = append(labelsSorted, label)
	}
	sort.Ints(labelsSorted)

	out := make([]models.ClusterInfo, 0, len(labelsSorted))
	for _, label := range labelsSorted {
		info, err := e.buildCluster(label, members[label], ids, vectors, weights, meta.Dimension)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	e.logger.Info("extracted clusters",
		zap.String("axis", axis),
		zap.Int("points", len(records)),
		zap.Int("clusters", len(out)))
	return out, nil
}

// buildCluster computes the confidence-weighted centroid over the
// original vectors for one label.
func (e *Extractor) buildCluster(label int, memberIdx []int, ids []string, vectors [][]float32, weights []float64, dim int) (models.ClusterInfo, error) {
	var totalWeight float64
	accum := make([]float64, dim)
	scaled := make([]float64, dim)
	memberIDs := make([]string, len(memberIdx))
	for i, idx := range memberIdx {
		memberIDs[i] = ids[idx]
		w := weights[idx]
		totalWeight += w
		for d, v := range vectors[idx] {
			scaled[d] = float64(v)
		}
		floats.AddScaled(accum, w, scaled)
	}
	if totalWeight == 0 {
		return models.ClusterInfo{}, fmt.Errorf("%w: cluster %d has zero total weight", ErrComputation, label)
	}
	floats.Scale(1/totalWeight, accum)
	centroid := make([]float32, dim)
	for d, v := range accum {
		centroid[d] = float32(v)
	}
	return models.ClusterInfo{
		Label:     label,
		Centroid:  centroid,
		MemberIDs: memberIDs,
		Size:      len(memberIDs),
		AvgWeight: float32(totalWeight / float64(len(memberIdx))),
	}, nil
}

func (e *Extractor) tierWeight(payload map[string]any) float64 {
	tier, _ := payload["confidence_tier"].(string)
	if tier == "" {
		return e.config.UntieredWeight
	}
	if w, ok := e.config.TierWeights[tier]; ok {
		return w
	}
	return e.config.UntieredWeight
}

func normalizeAll(vectors [][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, vec := range vectors {
		norm := make([]float32, len(vec))
		copy(norm, vec)
		utils.NormalizeL2(norm)
		out[i] = norm
	}
	return out
}
