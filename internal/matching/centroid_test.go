package matching

import (
	"math"
	"testing"
)

func TestCentroid(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		if got := Centroid(nil); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("single embedding is copied", func(t *testing.T) {
		orig := Embedding{1, 0, 0}
		got := Centroid([]Embedding{orig})
		if len(got) != 3 || got[0] != 1 {
			t.Fatalf("unexpected centroid %v", got)
		}
		got[0] = 99
		if orig[0] != 1 {
			t.Error("centroid must not alias the input")
		}
	})

	t.Run("mean direction is unit length", func(t *testing.T) {
		got := Centroid([]Embedding{
			{1, 0, 0},
			{0, 1, 0},
		})
		var norm float64
		for _, v := range got {
			norm += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-6 {
			t.Errorf("expected unit vector, norm %f", math.Sqrt(norm))
		}
		if math.Abs(float64(got[0]-got[1])) > 1e-6 {
			t.Errorf("expected symmetric mean, got %v", got)
		}
	})

	t.Run("centroid stays close to its members", func(t *testing.T) {
		a := Embedding{0.9, 0.1, 0}
		b := Embedding{0.8, 0.2, 0}
		far := Embedding{0, 0, 1}
		c := Centroid([]Embedding{a, b})
		if CosineDistance(c, a) > CosineDistance(c, far) {
			t.Error("centroid should be closer to its members than to unrelated vectors")
		}
	})
}
