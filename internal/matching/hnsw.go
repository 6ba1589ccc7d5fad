package matching

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSW graph parameters for 512-dim face embeddings.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	hnswMaxNeighbors = 16

	// hnswSearchMultiplier requests extra candidates from the graph to
	// compensate for tombstoned and superseded nodes filtered afterwards.
	hnswSearchMultiplier = 3
)

// HNSWIndex is an approximate index over case embeddings backed by an HNSW
// graph. It satisfies the same contract as LinearIndex; the graph cannot
// truly delete nodes, so removals are tombstones filtered at query time and
// distances are always recomputed from the live entry table.
type HNSWIndex struct {
	mu      sync.RWMutex
	dim     int
	graph   *hnsw.Graph[string]
	entries map[string]indexEntry
}

// NewHNSWIndex creates an empty approximate index for embeddings of the
// given dimension.
func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{
		dim:     dim,
		entries: make(map[string]indexEntry),
	}
}

func newCaseGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Insert adds a case embedding to the graph.
func (x *HNSWIndex) Insert(caseID string, emb Embedding, createdAt time.Time) error {
	if err := emb.Validate(x.dim); err != nil {
		return fmt.Errorf("inserting case %s: %w", caseID, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.graph = newCaseGraph()
	}
	x.graph.Add(hnsw.MakeNode(caseID, emb))
	x.entries[caseID] = indexEntry{embedding: emb, createdAt: createdAt}
	return nil
}

// Remove tombstones a case. The graph node stays behind but is filtered
// out of every query result.
func (x *HNSWIndex) Remove(caseID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, caseID)
}

// Replace swaps the embedding for a case under a single write lock. The
// entry table is authoritative for distances, so queries never observe the
// superseded vector.
func (x *HNSWIndex) Replace(caseID string, emb Embedding, createdAt time.Time) error {
	if err := emb.Validate(x.dim); err != nil {
		return fmt.Errorf("replacing case %s: %w", caseID, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.graph = newCaseGraph()
	}
	x.graph.Add(hnsw.MakeNode(caseID, emb))
	x.entries[caseID] = indexEntry{embedding: emb, createdAt: createdAt}
	return nil
}

// Query searches the graph and returns up to k live candidates ordered by
// non-decreasing exact cosine distance.
func (x *HNSWIndex) Query(emb Embedding, k int) ([]Candidate, error) {
	if err := emb.Validate(x.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("query k must be positive, got %d", k)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.entries) == 0 {
		return nil, nil
	}

	// Over-fetch so tombstoned nodes do not starve the result set.
	neighbors := x.graph.Search(emb, k*hnswSearchMultiplier)

	seen := make(map[string]bool, len(neighbors))
	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		entry, ok := x.entries[n.Key]
		if !ok || seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		candidates = append(candidates, Candidate{
			CaseID:        n.Key,
			Distance:      CosineDistance(emb, entry.embedding),
			CaseCreatedAt: entry.createdAt,
		})
	}

	sortCandidates(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

// Len returns the number of live cases in the index.
func (x *HNSWIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
