package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// Managed wraps a Store with the cold-start contract for the system's
// standard, lazily-materialized collections: reads against a registered
// collection that was never created return empty results instead of
// ErrNotFound, and writes create the collection on first use.
//
// Collections not registered as standard keep the underlying store's
// strict behavior.
type Managed struct {
	inner    Store
	logger   *zap.Logger
	mu       sync.Mutex
	standard map[string]models.Collection
}

// NewManaged wraps inner with lazy materialization for the given
// standard collections.
func NewManaged(inner Store, standard []models.Collection, logger *zap.Logger) *Managed {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := make(map[string]models.Collection, len(standard))
	for _, c := range standard {
		reg[c.Name] = c
	}
	return &Managed{inner: inner, logger: logger, standard: reg}
}

func (m *Managed) isStandard(name string) (models.Collection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.standard[name]
	return c, ok
}

// ensure creates a standard collection if it does not exist yet. A
// concurrent create racing us is fine: AlreadyExists is swallowed.
func (m *Managed) ensure(ctx context.Context, name string) error {
	spec, ok := m.isStandard(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	err := m.inner.CreateCollection(ctx, spec.Name, spec.Dimension, spec.Distance)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	if err == nil {
		m.logger.Info("lazily created standard collection",
			zap.String("collection", spec.Name),
			zap.Int("dimension", spec.Dimension))
	}
	return nil
}

// CreateCollection passes through unchanged; explicit creation keeps the
// strict AlreadyExists contract even for standard collections.
func (m *Managed) CreateCollection(ctx context.Context, name string, dimension int, distance models.Distance) error {
	return m.inner.CreateCollection(ctx, name, dimension, distance)
}

// Describe returns the registered spec for a standard collection that has
// not materialized yet.
func (m *Managed) Describe(ctx context.Context, name string) (*models.Collection, error) {
	meta, err := m.inner.Describe(ctx, name)
	if err != nil && errors.Is(err, ErrNotFound) {
		if spec, ok := m.isStandard(name); ok {
			return &spec, nil
		}
	}
	return meta, err
}

// Upsert lazily materializes a standard collection on first write.
func (m *Managed) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	err := m.inner.Upsert(ctx, collection, id, vector, payload)
	if err != nil && errors.Is(err, ErrNotFound) {
		if _, ok := m.isStandard(collection); ok {
			if err := m.ensure(ctx, collection); err != nil {
				return err
			}
			return m.inner.Upsert(ctx, collection, id, vector, payload)
		}
	}
	return err
}

// Get returns nil for an absent record, including the cold-start case.
func (m *Managed) Get(ctx context.Context, collection, id string, withVector bool) (*models.Record, error) {
	rec, err := m.inner.Get(ctx, collection, id, withVector)
	if err != nil && errors.Is(err, ErrNotFound) {
		if _, ok := m.isStandard(collection); ok {
			return nil, nil
		}
	}
	return rec, err
}

// Delete is a no-op against a not-yet-created standard collection.
func (m *Managed) Delete(ctx context.Context, collection, id string) error {
	err := m.inner.Delete(ctx, collection, id)
	if err != nil && errors.Is(err, ErrNotFound) {
		if _, ok := m.isStandard(collection); ok {
			return nil
		}
	}
	return err
}

// Search returns empty results against a not-yet-created standard
// collection.
func (m *Managed) Search(ctx context.Context, collection string, query []float32, limit int, filters Filter) ([]models.SearchResult, error) {
	results, err := m.inner.Search(ctx, collection, query, limit, filters)
	if err != nil && errors.Is(err, ErrNotFound) {
		if _, ok := m.isStandard(collection); ok {
			return nil, nil
		}
	}
	return results, err
}

// Scroll returns empty results against a not-yet-created standard
// collection.
func (m *Managed) Scroll(ctx context.Context, collection string, limit int, filters Filter, withVectors bool) ([]models.SearchResult, error) {
	results, err := m.inner.Scroll(ctx, collection, limit, filters, withVectors)
	if err != nil && errors.Is(err, ErrNotFound) {
		if _, ok := m.isStandard(collection); ok {
			return nil, nil
		}
	}
	return results, err
}

// Count returns zero against a not-yet-created standard collection.
func (m *Managed) Count(ctx context.Context, collection string, filters Filter) (int, error) {
	n, err := m.inner.Count(ctx, collection, filters)
	if err != nil && errors.Is(err, ErrNotFound) {
		if _, ok := m.isStandard(collection); ok {
			return 0, nil
		}
	}
	return n, err
}

// Close closes the underlying store.
func (m *Managed) Close() error {
	return m.inner.Close()
}
