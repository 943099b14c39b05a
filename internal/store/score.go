package store

import (
	"math"

	"github.com/hyperjump/kioku/internal/models"
)

// scoreVector computes the similarity score between query and vec under
// the given metric. Higher is always more similar: cosine lies in [-1,1],
// dot is the raw inner product, euclidean is the negated L2 distance.
func scoreVector(metric models.Distance, query, vec []float32) float32 {
	switch metric {
	case models.DistanceCosine:
		return cosineSimilarity(query, vec)
	case models.DistanceEuclidean:
		return -euclideanDistance(query, vec)
	default:
		return dotProduct(query, vec)
	}
}

func dotProduct(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(math.Max(-1, math.Min(1, cos)))
}

func euclideanDistance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
