// Package embedding provides text embedding behind a small port: a local
// ONNX model (CGO builds), a deterministic mock for tests, an LRU cache,
// and a registry that initializes heavy models at most once per process.
package embedding

import "context"

// Embedder produces vector embeddings for text. Callers must short-circuit
// and skip Embed for empty or whitespace-only text; implementations are
// not required to handle it meaningfully.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
