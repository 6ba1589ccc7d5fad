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

// caseListLimit caps a single search response.
const caseListLimit = 100

// CasesHandler handles missing person case endpoints.
type CasesHandler struct {
	coordinator *coordinator.Coordinator
	store       *registry.Store
	provider    *provider.Client
}

// NewCasesHandler creates a new cases handler. The provider may be nil
// when the engine runs with precomputed embeddings only.
func NewCasesHandler(c *coordinator.Coordinator, store *registry.Store, p *provider.Client) *CasesHandler {
	return &CasesHandler{
		coordinator: c,
		store:       store,
		provider:    p,
	}
}

// RegisterCaseRequest is the case registration payload. Embeddings may be
// supplied directly or extracted from photos via the multipart variant.
type RegisterCaseRequest struct {
	FullName            string               `json:"full_name"`
	Age                 int                  `json:"age"`
	Gender              string               `json:"gender,omitempty"`
	LastSeenLocation    string               `json:"last_seen_location"`
	LastSeenDate        time.Time            `json:"last_seen_date"`
	Height              string               `json:"height,omitempty"`
	Weight              string               `json:"weight,omitempty"`
	ClothingDescription string               `json:"clothing_description,omitempty"`
	DistinctiveFeatures string               `json:"distinctive_features,omitempty"`
	ReporterName        string               `json:"reporter_name,omitempty"`
	ReporterContact     string               `json:"reporter_contact,omitempty"`
	Embeddings          []matching.Embedding `json:"embeddings"`
}

func (req RegisterCaseRequest) draft() registry.CaseDraft {
	return registry.CaseDraft{
		FullName:            req.FullName,
		Age:                 req.Age,
		Gender:              req.Gender,
		LastSeenLocation:    req.LastSeenLocation,
		LastSeenDate:        req.LastSeenDate,
		Height:              req.Height,
		Weight:              req.Weight,
		ClothingDescription: req.ClothingDescription,
		DistinctiveFeatures: req.DistinctiveFeatures,
		ReporterName:        req.ReporterName,
		ReporterContact:     req.ReporterContact,
		Embeddings:          req.Embeddings,
	}
}

// Register creates a new case from a JSON payload with embeddings.
func (h *CasesHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.FullName == "" {
		respondError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	id, err := h.coordinator.RegisterCase(r.Context(), req.draft())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	cse, err := h.store.GetCase(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cse)
}

// Get returns a single case.
func (h *CasesHandler) Get(w http.ResponseWriter, r *http.Request) {
	cse, err := h.store.GetCase(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cse)
}

// List searches cases by status, free-text query, and last-seen date range.
func (h *CasesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.Filter{
		Status: registry.CaseStatus(q.Get("status")),
		Query:  q.Get("q"),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		filter.To = t
	}

	cases := make([]registry.MissingPersonCase, 0, 16)
	for cse := range h.store.SearchCases(filter) {
		cases = append(cases, cse)
		if len(cases) == caseListLimit {
			break
		}
	}
	respondJSON(w, http.StatusOK, cases)
}

// History returns the audited transition trail of a case.
func (h *CasesHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.store.CaseHistory(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// UpdateCaseRequest carries partial edits to a case's descriptive fields.
type UpdateCaseRequest struct {
	LastSeenLocation    *string    `json:"last_seen_location,omitempty"`
	LastSeenDate        *time.Time `json:"last_seen_date,omitempty"`
	Height              *string    `json:"height,omitempty"`
	Weight              *string    `json:"weight,omitempty"`
	ClothingDescription *string    `json:"clothing_description,omitempty"`
	DistinctiveFeatures *string    `json:"distinctive_features,omitempty"`
	ReporterName        *string    `json:"reporter_name,omitempty"`
	ReporterContact     *string    `json:"reporter_contact,omitempty"`
}

// Update applies administrative edits to a case.
func (h *CasesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	id := chi.URLParam(r, "id")
	err := h.store.UpdateCaseDetails(r.Context(), id, registry.CaseEdits{
		LastSeenLocation:    req.LastSeenLocation,
		LastSeenDate:        req.LastSeenDate,
		Height:              req.Height,
		Weight:              req.Weight,
		ClothingDescription: req.ClothingDescription,
		DistinctiveFeatures: req.DistinctiveFeatures,
		ReporterName:        req.ReporterName,
		ReporterContact:     req.ReporterContact,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	cse, err := h.store.GetCase(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cse)
}

// Withdraw soft-deletes a case on family request.
func (h *CasesHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.WithdrawCase(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(registry.CaseWithdrawn)})
}

// ReviewRequest is the reviewer's verdict on a matched case.
type ReviewRequest struct {
	// Verdict is "accept" or "reject".
	Verdict string `json:"verdict"`
}

// Review applies a reviewer decision to a matched case.
func (h *CasesHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	id := chi.URLParam(r, "id")
	switch req.Verdict {
	case "accept":
		outcomes, err := h.coordinator.ConfirmCase(r.Context(), id)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":        string(registry.CaseResolved),
			"notifications": outcomes,
		})
	case "reject":
		outcomes, err := h.coordinator.RejectCase(r.Context(), id)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":        string(registry.CaseActive),
			"notifications": outcomes,
		})
	default:
		respondError(w, http.StatusBadRequest, "verdict must be accept or reject")
	}
}

// AddPhotoRequest carries an additional reference embedding for a case.
type AddPhotoRequest struct {
	Embedding matching.Embedding `json:"embedding"`
}

// AddPhoto appends a reference embedding to a case. With a multipart form
// the embedding is extracted from the uploaded photo instead.
func (h *CasesHandler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emb, ok := h.embeddingFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.coordinator.AppendCaseEmbedding(r.Context(), id, emb); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"case_id": id})
}

// embeddingFromRequest extracts an embedding either from a multipart photo
// upload (via the embedding service) or from a JSON body. A case photo
// must show exactly one face; a group photo is rejected rather than
// guessed at, since indexing the wrong face poisons matching for the
// whole case. Writes the error response itself and returns false on
// failure.
func (h *CasesHandler) embeddingFromRequest(w http.ResponseWriter, r *http.Request) (matching.Embedding, bool) {
	if isMultipart(r) {
		if h.provider == nil {
			respondError(w, http.StatusNotImplemented, "photo uploads require an embedding service")
			return nil, false
		}
		data, ok := readUploadedImage(w, r)
		if !ok {
			return nil, false
		}
		embs, err := h.provider.ExtractAllFaces(r.Context(), data)
		if err != nil {
			respondDomainError(w, err)
			return nil, false
		}
		if len(embs) > 1 {
			respondError(w, http.StatusUnprocessableEntity, "photo contains multiple faces; upload a photo of the missing person alone")
			return nil, false
		}
		return embs[0], true
	}

	var req AddPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return nil, false
	}
	return req.Embedding, true
}
