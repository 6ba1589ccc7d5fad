package matching

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Candidate is an ephemeral pairing of a query against an indexed case.
// Produced fresh per query and consumed by Evaluate; never persisted.
type Candidate struct {
	CaseID        string
	Distance      float64
	CaseCreatedAt time.Time
	Rank          int
}

// Index answers nearest-candidate queries over the embeddings of active
// missing-person cases. Implementations must support concurrent queries
// with exclusive-on-write semantics for Insert/Remove/Replace.
type Index interface {
	// Insert adds a case embedding, validating dimension and finiteness.
	Insert(caseID string, emb Embedding, createdAt time.Time) error
	// Remove drops a case from the index. Removing an absent case is a no-op.
	Remove(caseID string)
	// Replace atomically swaps the embedding for a case. No query observes
	// a window where the case is absent.
	Replace(caseID string, emb Embedding, createdAt time.Time) error
	// Query returns up to k candidates ordered by non-decreasing distance.
	Query(emb Embedding, k int) ([]Candidate, error)
	// Len returns the number of indexed cases.
	Len() int
}

// indexEntry holds the indexed embedding and the metadata needed for
// deterministic tie-breaking.
type indexEntry struct {
	embedding Embedding
	createdAt time.Time
}

// LinearIndex is an exact brute-force index. A full scan is acceptable up
// to tens of thousands of cases; HNSWIndex covers larger registries with
// the same contract.
type LinearIndex struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]indexEntry
}

// NewLinearIndex creates an empty exact index for embeddings of the given
// dimension.
func NewLinearIndex(dim int) *LinearIndex {
	return &LinearIndex{
		dim:     dim,
		entries: make(map[string]indexEntry),
	}
}

// Insert adds a case embedding to the index.
func (x *LinearIndex) Insert(caseID string, emb Embedding, createdAt time.Time) error {
	if err := emb.Validate(x.dim); err != nil {
		return fmt.Errorf("inserting case %s: %w", caseID, err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[caseID] = indexEntry{embedding: emb, createdAt: createdAt}
	return nil
}

// Remove drops a case from the index.
func (x *LinearIndex) Remove(caseID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, caseID)
}

// Replace swaps the embedding for a case under a single write lock.
func (x *LinearIndex) Replace(caseID string, emb Embedding, createdAt time.Time) error {
	if err := emb.Validate(x.dim); err != nil {
		return fmt.Errorf("replacing case %s: %w", caseID, err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[caseID] = indexEntry{embedding: emb, createdAt: createdAt}
	return nil
}

// Query scans all entries and returns the k nearest, ordered by
// non-decreasing distance. An index with fewer than k entries returns all
// of them.
func (x *LinearIndex) Query(emb Embedding, k int) ([]Candidate, error) {
	if err := emb.Validate(x.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("query k must be positive, got %d", k)
	}

	x.mu.RLock()
	candidates := make([]Candidate, 0, len(x.entries))
	for id, entry := range x.entries {
		candidates = append(candidates, Candidate{
			CaseID:        id,
			Distance:      CosineDistance(emb, entry.embedding),
			CaseCreatedAt: entry.createdAt,
		})
	}
	x.mu.RUnlock()

	sortCandidates(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

// Len returns the number of indexed cases.
func (x *LinearIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// distanceEpsilon is the window within which two distances count as tied.
const distanceEpsilon = 1e-9

// sortCandidates orders candidates by ascending distance. Ties within
// epsilon prefer the older case, then the lexically smaller ID, so ordering
// is reproducible across runs.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if diff := a.Distance - b.Distance; diff < -distanceEpsilon || diff > distanceEpsilon {
			return a.Distance < b.Distance
		}
		if !a.CaseCreatedAt.Equal(b.CaseCreatedAt) {
			return a.CaseCreatedAt.Before(b.CaseCreatedAt)
		}
		return a.CaseID < b.CaseID
	})
}
