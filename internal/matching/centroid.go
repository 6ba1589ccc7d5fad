package matching

import "math"

// Centroid returns the unit-normalized mean of the given embeddings. A
// case registered with several reference photos is indexed under a single
// representative vector; for unit face embeddings the normalized mean
// preserves cosine ranking against any one of them.
func Centroid(embs []Embedding) Embedding {
	if len(embs) == 0 {
		return nil
	}
	if len(embs) == 1 {
		return append(Embedding(nil), embs[0]...)
	}

	dim := len(embs[0])
	sum := make([]float64, dim)
	for _, emb := range embs {
		for i, v := range emb {
			sum[i] += float64(v)
		}
	}

	var norm float64
	for _, v := range sum {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	out := make(Embedding, dim)
	for i, v := range sum {
		out[i] = float32(v / norm)
	}
	return out
}
