package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// MemoryStore is the in-process reference backend: brute-force exact
// scoring over per-collection indexes. It is the default for offline and
// test operation.
//
// Locking is per collection so operations on different collections never
// contend. Within a collection writers are exclusive while readers share
// an RLock, so a long Scroll feeding clustering does not block Search.
type MemoryStore struct {
	mu            sync.RWMutex // guards the collections map only
	collections   map[string]*memCollection
	scrollCeiling int
	logger        *zap.Logger
}

type memCollection struct {
	mu      sync.RWMutex
	meta    models.Collection
	records map[string]*memRecord
	order   []string // ids in insertion order, for stable tie-breaks
}

type memRecord struct {
	vector  []float32
	payload map[string]any
	seq     int
}

// NewMemoryStore creates an empty in-process store. A scrollCeiling <= 0
// falls back to DefaultScrollCeiling.
func NewMemoryStore(scrollCeiling int, logger *zap.Logger) *MemoryStore {
	if scrollCeiling <= 0 {
		scrollCeiling = DefaultScrollCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		collections:   make(map[string]*memCollection),
		scrollCeiling: scrollCeiling,
		logger:        logger,
	}
}

// CreateCollection registers a collection. Not idempotent: a duplicate
// name fails with ErrAlreadyExists.
func (s *MemoryStore) CreateCollection(ctx context.Context, name string, dimension int, distance models.Distance) error {
	if name == "" {
		return fmt.Errorf("%w: collection name must not be empty", ErrValidation)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrValidation, dimension)
	}
	if !distance.Valid() {
		return fmt.Errorf("%w: unknown distance metric %q", ErrValidation, distance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	s.collections[name] = &memCollection{
		meta:    models.Collection{Name: name, Dimension: dimension, Distance: distance},
		records: make(map[string]*memRecord),
	}
	return nil
}

// Describe returns collection metadata or ErrNotFound.
func (s *MemoryStore) Describe(ctx context.Context, name string) (*models.Collection, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	meta := col.meta
	return &meta, nil
}

func (s *MemoryStore) collection(name string) (*memCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return col, nil
}

// Upsert stores a record, replacing any prior one with the same id. A
// replaced record keeps its original insertion position.
func (s *MemoryStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if len(vector) != col.meta.Dimension {
		return fmt.Errorf("%w: vector dimension %d, collection %q expects %d", ErrValidation, len(vector), collection, col.meta.Dimension)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	col.mu.Lock()
	defer col.mu.Unlock()
	if prior, exists := col.records[id]; exists {
		col.records[id] = &memRecord{vector: vec, payload: clonePayload(payload), seq: prior.seq}
		return nil
	}
	col.records[id] = &memRecord{vector: vec, payload: clonePayload(payload), seq: len(col.order)}
	col.order = append(col.order, id)
	return nil
}

// Get returns the record or nil when the id is absent.
func (s *MemoryStore) Get(ctx context.Context, collection, id string, withVector bool) (*models.Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	col.mu.RLock()
	defer col.mu.RUnlock()
	rec, ok := col.records[id]
	if !ok {
		return nil, nil
	}
	out := &models.Record{ID: id, Payload: clonePayload(rec.payload)}
	if withVector {
		out.Vector = append([]float32(nil), rec.vector...)
	}
	return out, nil
}

// Delete removes the record; an absent id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	if _, ok := col.records[id]; !ok {
		return nil
	}
	delete(col.records, id)
	for i, oid := range col.order {
		if oid == id {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}
	return nil
}

// Search scores every matching record and returns the top results by
// score descending, ties broken by insertion order.
func (s *MemoryStore) Search(ctx context.Context, collection string, query []float32, limit int, filters Filter) ([]models.SearchResult, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(query) != col.meta.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, collection %q expects %d", ErrValidation, len(query), collection, col.meta.Dimension)
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	col.mu.RLock()
	defer col.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	type scored struct {
		id      string
		score   float32
		payload map[string]any
		seq     int
	}
	hits := make([]scored, 0, len(col.order))
	for _, id := range col.order {
		rec := col.records[id]
		if filters != nil {
			ok, err := filters.Matches(rec.payload)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		hits = append(hits, scored{
			id:      id,
			score:   scoreVector(col.meta.Distance, query, rec.vector),
			payload: rec.payload,
			seq:     rec.seq,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].seq < hits[j].seq
	})
	if limit > len(hits) {
		limit = len(hits)
	}
	results := make([]models.SearchResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = models.SearchResult{
			ID:      hits[i].id,
			Score:   hits[i].score,
			Payload: clonePayload(hits[i].payload),
		}
	}
	return results, nil
}

// Scroll returns up to limit matching records without ordering
// guarantees. Results are capped at the configured ceiling; leaving a
// matching record behind logs a warning because silent truncation would
// skew downstream clustering.
func (s *MemoryStore) Scroll(ctx context.Context, collection string, limit int, filters Filter, withVectors bool) ([]models.SearchResult, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	effective := limit
	if effective <= 0 || effective > s.scrollCeiling {
		effective = s.scrollCeiling
	}
	col.mu.RLock()
	defer col.mu.RUnlock()
	results := make([]models.SearchResult, 0, min(effective, len(col.order)))
	capped := false
	for _, id := range col.order {
		rec := col.records[id]
		if filters != nil {
			ok, err := filters.Matches(rec.payload)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if len(results) >= effective {
			// Only a matching record left behind counts as truncation.
			capped = effective == s.scrollCeiling
			break
		}
		r := models.SearchResult{ID: id, Payload: clonePayload(rec.payload)}
		if withVectors {
			r.Vector = append([]float32(nil), rec.vector...)
		}
		results = append(results, r)
	}
	if capped {
		s.logger.Warn("scroll hit scan ceiling, results truncated",
			zap.String("collection", collection),
			zap.Int("ceiling", s.scrollCeiling))
	}
	return results, nil
}

// Count returns the number of records matching filters.
func (s *MemoryStore) Count(ctx context.Context, collection string, filters Filter) (int, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	if err := filters.Validate(); err != nil {
		return 0, err
	}
	col.mu.RLock()
	defer col.mu.RUnlock()
	if filters == nil {
		return len(col.records), nil
	}
	n := 0
	for _, rec := range col.records {
		ok, err := filters.Matches(rec.payload)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
