package store

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider selects the store backend.
type Provider string

const (
	// ProviderMemory is the in-process reference backend, the default
	// for offline and test operation.
	ProviderMemory Provider = "memory"
	// ProviderSQLite is the durable local backend.
	ProviderSQLite Provider = "sqlite"
	// ProviderQdrant fronts an external Qdrant instance.
	ProviderQdrant Provider = "qdrant"
)

// Options carries backend construction settings.
type Options struct {
	// DatabasePath is the SQLite file path (sqlite provider only).
	DatabasePath string
	// QdrantURL is the Qdrant REST base URL (qdrant provider only).
	QdrantURL string
	// ScrollCeiling caps Scroll scans; <= 0 uses DefaultScrollCeiling.
	ScrollCeiling int
}

// New creates a store of the given provider.
// Supported providers: "memory" (default), "sqlite", "qdrant".
func New(provider string, opts Options, logger *zap.Logger) (Store, error) {
	switch Provider(provider) {
	case ProviderMemory, "":
		return NewMemoryStore(opts.ScrollCeiling, logger), nil
	case ProviderSQLite:
		if opts.DatabasePath == "" {
			return nil, fmt.Errorf("sqlite provider requires a database path")
		}
		return NewSQLiteStore(opts.DatabasePath, opts.ScrollCeiling, logger)
	case ProviderQdrant:
		if opts.QdrantURL == "" {
			return nil, fmt.Errorf("qdrant provider requires a base URL")
		}
		return NewQdrantStore(opts.QdrantURL, opts.ScrollCeiling, logger), nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s (supported: memory, sqlite, qdrant)", provider)
	}
}
