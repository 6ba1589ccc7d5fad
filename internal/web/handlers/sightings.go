package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reunitehq/reunite/internal/coordinator"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/provider"
	"github.com/reunitehq/reunite/internal/registry"
)

// SightingsHandler handles sighting submission and review endpoints.
type SightingsHandler struct {
	coordinator *coordinator.Coordinator
	store       *registry.Store
	provider    *provider.Client
}

// NewSightingsHandler creates a new sightings handler. The provider may be
// nil when the engine runs with precomputed embeddings only.
func NewSightingsHandler(c *coordinator.Coordinator, store *registry.Store, p *provider.Client) *SightingsHandler {
	return &SightingsHandler{
		coordinator: c,
		store:       store,
		provider:    p,
	}
}

// SubmitSightingRequest is the JSON sighting payload with a precomputed
// embedding. Multipart submissions carry a photo and the same metadata as
// form fields.
type SubmitSightingRequest struct {
	CapturedAt        time.Time          `json:"captured_at"`
	CaptureLocation   string             `json:"capture_location"`
	EstimatedAgeRange string             `json:"estimated_age_range,omitempty"`
	EstimatedGender   string             `json:"estimated_gender,omitempty"`
	Embedding         matching.Embedding `json:"embedding"`
}

// Submit records a sighting and runs the matching workflow synchronously,
// returning the decision and any notification outcomes.
func (h *SightingsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	draft, ok := h.draftFromRequest(w, r)
	if !ok {
		return
	}

	result, err := h.coordinator.SubmitSighting(r.Context(), draft)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// draftFromRequest builds a sighting draft from either a JSON body or a
// multipart photo upload. Writes the error response itself and returns
// false on failure.
func (h *SightingsHandler) draftFromRequest(w http.ResponseWriter, r *http.Request) (registry.SightingDraft, bool) {
	if isMultipart(r) {
		if h.provider == nil {
			respondError(w, http.StatusNotImplemented, "photo uploads require an embedding service")
			return registry.SightingDraft{}, false
		}
		data, ok := readUploadedImage(w, r)
		if !ok {
			return registry.SightingDraft{}, false
		}
		emb, err := h.provider.ExtractFace(r.Context(), data)
		if err != nil {
			respondDomainError(w, err)
			return registry.SightingDraft{}, false
		}

		draft := registry.SightingDraft{
			CapturedAt:        time.Now(),
			CaptureLocation:   r.FormValue("capture_location"),
			EstimatedAgeRange: r.FormValue("estimated_age_range"),
			EstimatedGender:   r.FormValue("estimated_gender"),
			Embedding:         emb,
		}
		if at := r.FormValue("captured_at"); at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid captured_at timestamp")
				return registry.SightingDraft{}, false
			}
			draft.CapturedAt = t
		}
		return draft, true
	}

	var req SubmitSightingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return registry.SightingDraft{}, false
	}
	if req.CapturedAt.IsZero() {
		req.CapturedAt = time.Now()
	}
	return registry.SightingDraft{
		CapturedAt:        req.CapturedAt,
		CaptureLocation:   req.CaptureLocation,
		EstimatedAgeRange: req.EstimatedAgeRange,
		EstimatedGender:   req.EstimatedGender,
		Embedding:         req.Embedding,
	}, true
}

// Get returns a single sighting.
func (h *SightingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sg, err := h.store.GetSighting(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sg)
}

// Pending lists sightings waiting for human review.
func (h *SightingsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.PendingSightings())
}

// History returns the audited transition trail of a sighting.
func (h *SightingsHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.store.SightingHistory(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// Resolve closes an under-review sighting after a reviewer decision.
func (h *SightingsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.ResolveSighting(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(registry.SightingResolved)})
}
