// Package matching implements the similarity-search core: embedding
// validation, cosine distance, the candidate index, and the confidence
// policy that turns ranked candidates into a match decision.
package matching

import (
	"errors"
	"fmt"
	"math"
)

// Embedding is a fixed-length face descriptor produced by the embedding
// service. Immutable once attached to a case or sighting.
type Embedding []float32

var (
	// ErrInvalidEmbedding indicates a malformed embedding (empty or
	// containing NaN/Inf values). The input is rejected before any state
	// is mutated.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the deployment dimension. Usually a version mismatch between the
	// embedding service and the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Validate checks that the embedding has the expected dimension and only
// finite values.
func (e Embedding) Validate(dim int) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	if len(e) != dim {
		return fmt.Errorf("%w: got %d values, expected %d", ErrDimensionMismatch, len(e), dim)
	}
	for i, v := range e {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrInvalidEmbedding, i)
		}
	}
	return nil
}

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical direction) and 2 (opposite).
// Cosine distance = 1 - cosine similarity.
func CosineDistance(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}
