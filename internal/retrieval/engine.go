// Package retrieval orchestrates a semantic query: embed once, search
// every relevant source collection, deduplicate the pooled hits, and
// assemble the token-budgeted context document.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperjump/kioku/internal/contextpack"
	"github.com/hyperjump/kioku/internal/dedup"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/store"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

// Options configures the engine.
type Options struct {
	// Collections maps each source to its collection name. Sources
	// without an entry are skipped.
	Collections map[models.Source]string
	// Weights are the per-source budget weights.
	Weights map[models.Source]int
	// PerSourceLimit bounds each source's search; <= 0 uses 10.
	PerSourceLimit int
	// MaxTokens is the default budget when a query does not set one.
	MaxTokens int
	// MaxItemFraction caps one rendered item within a source budget.
	MaxItemFraction float64
	// Dedup carries the deduplication thresholds.
	Dedup dedup.Options
}

// Query is one context-assembly request.
type Query struct {
	Text      string
	MaxTokens int
	// Filters applies per source; sources without an entry search
	// unfiltered.
	Filters map[models.Source]store.Filter
	// Premortem switches to the premortem assembly mode.
	Premortem bool
	// Estimator selects token estimation: "char" (default) or "word".
	Estimator string
}

// Response is the assembled context plus its metrics.
type Response struct {
	Markdown string            `json:"markdown"`
	Stats    contextpack.Stats `json:"stats"`
}

// Engine runs retrieval and assembly against a shared store.
type Engine struct {
	store    store.Store
	embedder embedding.Embedder
	opts     Options
	logger   *zap.Logger
}

// NewEngine creates an engine with the given dependencies.
func NewEngine(s store.Store, embedder embedding.Embedder, opts Options, logger *zap.Logger) *Engine {
	if opts.PerSourceLimit <= 0 {
		opts.PerSourceLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: s, embedder: embedder, opts: opts, logger: logger}
}

// BuildContext runs the full pipeline for one query. A failing per-source
// search fails the whole call: environment problems must surface to the
// caller rather than producing silently incomplete context. The engine
// performs no retries; that policy belongs to the caller.
func (e *Engine) BuildContext(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		// Blank queries never reach the embedder.
		return &Response{}, nil
	}
	queryVector, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	pooled, err := e.searchSources(ctx, queryVector, q.Filters)
	if err != nil {
		return nil, err
	}

	deduped := dedup.Deduplicate(pooled, e.opts.Dedup)

	maxTokens := q.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.opts.MaxTokens
	}
	assemblyOpts := contextpack.Options{
		Weights:         e.opts.Weights,
		MaxTokens:       maxTokens,
		MaxItemFraction: e.opts.MaxItemFraction,
		Estimator:       estimatorFor(q.Estimator),
	}

	var markdown string
	var stats contextpack.Stats
	if q.Premortem {
		markdown, stats = contextpack.AssemblePremortem(deduped, assemblyOpts)
	} else {
		markdown, stats = contextpack.Assemble(groupBySource(deduped), assemblyOpts)
	}

	e.logger.Debug("assembled context",
		zap.String("query", utils.Truncate(q.Text, 120)),
		zap.Int("pooled", len(pooled)),
		zap.Int("deduped", len(deduped)),
		zap.Int("tokens", stats.TokenCount),
		zap.Bool("truncated", stats.Truncated))
	return &Response{Markdown: markdown, Stats: stats}, nil
}

// searchSources fans out one search per configured source. Results pool
// into a single flat list; the first error wins.
func (e *Engine) searchSources(ctx context.Context, queryVector []float32, filters map[models.Source]store.Filter) ([]models.ContextItem, error) {
	var (
		mu      sync.Mutex
		pooled  []models.ContextItem
		wg      sync.WaitGroup
		errChan = make(chan error, len(e.opts.Collections))
	)
	for src, collection := range e.opts.Collections {
		wg.Add(1)
		go func(src models.Source, collection string) {
			defer wg.Done()
			hits, err := e.store.Search(ctx, collection, queryVector, e.opts.PerSourceLimit, filters[src])
			if err != nil {
				errChan <- fmt.Errorf("search %s: %w", src, err)
				return
			}
			items := make([]models.ContextItem, 0, len(hits))
			for _, hit := range hits {
				items = append(items, itemFromResult(src, hit))
			}
			mu.Lock()
			pooled = append(pooled, items...)
			mu.Unlock()
		}(src, collection)
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}
	return pooled, nil
}

// itemFromResult maps a search hit into a ContextItem, pulling the
// source's primary text field out of the payload.
func itemFromResult(src models.Source, hit models.SearchResult) models.ContextItem {
	content := ""
	switch src {
	case models.SourceCode:
		content, _ = hit.Payload["snippet"].(string)
	case models.SourceValue:
		content, _ = hit.Payload["statement"].(string)
	case models.SourceCommit:
		content, _ = hit.Payload["message"].(string)
	default:
		content, _ = hit.Payload["content"].(string)
	}
	metadata := make(map[string]any, len(hit.Payload)+1)
	for k, v := range hit.Payload {
		metadata[k] = v
	}
	return models.ContextItem{
		Source:    src,
		Content:   content,
		Relevance: hit.Score,
		Metadata:  metadata,
	}
}

// groupBySource splits a relevance-sorted flat list into per-source lists
// that keep the relative order.
func groupBySource(items []models.ContextItem) map[models.Source][]models.ContextItem {
	grouped := make(map[models.Source][]models.ContextItem)
	for _, item := range items {
		grouped[item.Source] = append(grouped[item.Source], item)
	}
	return grouped
}

func estimatorFor(name string) contextpack.TokenEstimator {
	if name == "word" {
		return contextpack.WordEstimator
	}
	return contextpack.CharEstimator
}
