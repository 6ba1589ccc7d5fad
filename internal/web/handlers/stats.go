package handlers

import (
	"net/http"

	"github.com/reunitehq/reunite/internal/registry"
)

// StatsHandler reports engine counters for the operations dashboard.
type StatsHandler struct {
	store *registry.Store
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store *registry.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// StatsResponse is the engine counter snapshot.
type StatsResponse struct {
	Cases          int `json:"cases"`
	Sightings      int `json:"sightings"`
	MatchableCases int `json:"matchable_cases"`
	PendingReview  int `json:"pending_review"`
}

// Get returns current engine counters.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	cases, sightings := h.store.Counts()
	respondJSON(w, http.StatusOK, StatsResponse{
		Cases:          cases,
		Sightings:      sightings,
		MatchableCases: len(h.store.MatchableCases()),
		PendingReview:  len(h.store.PendingSightings()),
	})
}
