package matching

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// indexImplementations lets every contract test run against both the exact
// and the approximate index.
func indexImplementations(dim int) map[string]Index {
	return map[string]Index{
		"linear": NewLinearIndex(dim),
		"hnsw":   NewHNSWIndex(dim),
	}
}

func unitVector(dim, hot int) Embedding {
	emb := make(Embedding, dim)
	emb[hot] = 1
	return emb
}

func TestIndexQueryOrdering(t *testing.T) {
	const dim = 4
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, idx := range indexImplementations(dim) {
		t.Run(name, func(t *testing.T) {
			// Vectors at increasing angles from the query direction.
			vectors := []Embedding{
				{1, 0, 0, 0},
				{0.9, 0.1, 0, 0},
				{0.5, 0.5, 0, 0},
				{0, 1, 0, 0},
			}
			for i, v := range vectors {
				id := fmt.Sprintf("case-%d", i)
				if err := idx.Insert(id, v, base.Add(time.Duration(i)*time.Hour)); err != nil {
					t.Fatalf("insert %s: %v", id, err)
				}
			}

			got, err := idx.Query(Embedding{1, 0, 0, 0}, 10)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != len(vectors) {
				t.Fatalf("expected %d candidates, got %d", len(vectors), len(got))
			}
			for i := 1; i < len(got); i++ {
				if got[i].Distance < got[i-1].Distance {
					t.Errorf("distances not non-decreasing at %d: %f after %f", i, got[i].Distance, got[i-1].Distance)
				}
			}
			if got[0].CaseID != "case-0" {
				t.Errorf("expected case-0 nearest, got %s", got[0].CaseID)
			}
			for i, c := range got {
				if c.Rank != i+1 {
					t.Errorf("candidate %d has rank %d", i, c.Rank)
				}
			}
		})
	}
}

func TestIndexQueryTruncation(t *testing.T) {
	const dim = 3
	now := time.Now()

	for name, idx := range indexImplementations(dim) {
		t.Run(name, func(t *testing.T) {
			for i := range 7 {
				emb := Embedding{1, float32(i) * 0.1, 0}
				if err := idx.Insert(fmt.Sprintf("case-%d", i), emb, now); err != nil {
					t.Fatalf("insert: %v", err)
				}
			}
			got, err := idx.Query(Embedding{1, 0, 0}, 3)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != 3 {
				t.Errorf("expected 3 candidates, got %d", len(got))
			}
		})
	}
}

func TestIndexQueryFewerThanK(t *testing.T) {
	for name, idx := range indexImplementations(2) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Insert("only", Embedding{1, 0}, time.Now()); err != nil {
				t.Fatalf("insert: %v", err)
			}
			got, err := idx.Query(Embedding{0, 1}, 5)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != 1 {
				t.Errorf("expected all entries when fewer than k, got %d", len(got))
			}
		})
	}
}

func TestIndexQueryEmpty(t *testing.T) {
	for name, idx := range indexImplementations(2) {
		t.Run(name, func(t *testing.T) {
			got, err := idx.Query(Embedding{1, 0}, 5)
			if err != nil {
				t.Fatalf("empty index query must not fail: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected empty result, got %d candidates", len(got))
			}
		})
	}
}

func TestIndexDimensionMismatch(t *testing.T) {
	for name, idx := range indexImplementations(4) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Insert("bad", Embedding{1, 0}, time.Now()); !errors.Is(err, ErrDimensionMismatch) {
				t.Errorf("insert wrong dim: expected ErrDimensionMismatch, got %v", err)
			}
			if _, err := idx.Query(Embedding{1, 0}, 5); !errors.Is(err, ErrDimensionMismatch) {
				t.Errorf("query wrong dim: expected ErrDimensionMismatch, got %v", err)
			}
		})
	}
}

func TestIndexRemove(t *testing.T) {
	for name, idx := range indexImplementations(2) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Insert("gone", Embedding{1, 0}, time.Now()); err != nil {
				t.Fatalf("insert: %v", err)
			}
			idx.Remove("gone")
			if idx.Len() != 0 {
				t.Errorf("expected empty index after remove, got %d", idx.Len())
			}
			got, err := idx.Query(Embedding{1, 0}, 5)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			for _, c := range got {
				if c.CaseID == "gone" {
					t.Error("removed case returned from query")
				}
			}
		})
	}
}

func TestIndexReplace(t *testing.T) {
	for name, idx := range indexImplementations(2) {
		t.Run(name, func(t *testing.T) {
			created := time.Now()
			if err := idx.Insert("c1", Embedding{1, 0}, created); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := idx.Replace("c1", Embedding{0, 1}, created); err != nil {
				t.Fatalf("replace: %v", err)
			}
			if idx.Len() != 1 {
				t.Fatalf("expected single entry after replace, got %d", idx.Len())
			}
			got, err := idx.Query(Embedding{0, 1}, 1)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != 1 || got[0].CaseID != "c1" {
				t.Fatalf("unexpected result after replace: %+v", got)
			}
			if got[0].Distance > 1e-6 {
				t.Errorf("distance should reflect the new embedding, got %f", got[0].Distance)
			}
		})
	}
}

func TestIndexConcurrentAccess(t *testing.T) {
	const dim = 8
	for name, idx := range indexImplementations(dim) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for w := range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range 50 {
						id := fmt.Sprintf("w%d-c%d", w, i)
						if err := idx.Insert(id, unitVector(dim, i%dim), time.Now()); err != nil {
							t.Errorf("insert: %v", err)
							return
						}
					}
				}()
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range 50 {
						if _, err := idx.Query(unitVector(dim, w%dim), 5); err != nil {
							t.Errorf("query: %v", err)
							return
						}
					}
				}()
			}
			wg.Wait()
			if idx.Len() != 200 {
				t.Errorf("expected 200 entries, got %d", idx.Len())
			}
		})
	}
}
