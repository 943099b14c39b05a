// Package models defines the data types shared across the Kioku engine.
package models

// Distance is the similarity metric a collection scores with.
type Distance string

const (
	// DistanceCosine scores by cosine similarity, range [-1, 1].
	DistanceCosine Distance = "cosine"
	// DistanceEuclidean scores by negated L2 distance, range (-inf, 0].
	DistanceEuclidean Distance = "euclidean"
	// DistanceDot scores by raw inner product, unbounded.
	DistanceDot Distance = "dot"
)

// Valid reports whether d is a known distance metric.
func (d Distance) Valid() bool {
	switch d {
	case DistanceCosine, DistanceEuclidean, DistanceDot:
		return true
	}
	return false
}

// Collection describes a named vector collection. Dimension and distance
// are fixed at creation; changing an embedding model's dimension means
// deleting and recreating the collection.
type Collection struct {
	Name      string   `json:"name"`
	Dimension int      `json:"dimension"`
	Distance  Distance `json:"distance"`
}

// Record is a stored vector with its payload. Upsert replaces the whole
// record (vector and payload) for a given ID.
type Record struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchResult is a single similarity hit. Score is monotonic with
// similarity under the collection's distance metric (higher = more
// similar). Vector is populated only when requested.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
	Vector  []float32      `json:"vector,omitempty"`
}
