// Package store provides vector record storage with exact similarity
// search and predicate filtering. Three interchangeable backends exist:
// an in-process reference implementation, a SQLite-backed one, and an
// adapter to an external Qdrant service. All backends satisfy the same
// Store interface and pass one shared conformance suite.
package store

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// DefaultScrollCeiling caps how many records a single Scroll may return
// when no other ceiling is configured.
const DefaultScrollCeiling = 10000

// Store defines vector collection storage and exact similarity search.
type Store interface {
	// CreateCollection registers a new collection. It fails with
	// ErrAlreadyExists if the name is taken; it is deliberately not
	// idempotent, callers wanting idempotence check Describe first.
	CreateCollection(ctx context.Context, name string, dimension int, distance models.Distance) error

	// Describe returns the collection's metadata, or ErrNotFound.
	Describe(ctx context.Context, name string) (*models.Collection, error)

	// Upsert stores a record, replacing any prior record with the same
	// id (vector and payload both). Fails with ErrNotFound for an
	// unknown collection and ErrValidation on dimension mismatch.
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error

	// Get returns the record with the given id, or nil (not an error)
	// when absent. The vector is included only when withVector is set.
	Get(ctx context.Context, collection, id string, withVector bool) (*models.Record, error)

	// Delete removes a record. Absent ids are a no-op, not an error.
	Delete(ctx context.Context, collection, id string) error

	// Search scores every record matching filters against the query
	// vector and returns up to limit results sorted by score descending.
	// Ties break by original insertion order.
	Search(ctx context.Context, collection string, query []float32, limit int, filters Filter) ([]models.SearchResult, error)

	// Scroll returns an unordered snapshot of up to limit matching
	// records; scores are undefined. Scans are capped at the configured
	// ceiling and hitting the cap logs a warning, never an error.
	Scroll(ctx context.Context, collection string, limit int, filters Filter, withVectors bool) ([]models.SearchResult, error)

	// Count returns the number of records matching filters.
	Count(ctx context.Context, collection string, filters Filter) (int, error)

	// Close releases backend resources.
	Close() error
}
