package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reunitehq/reunite/internal/notify"
)

// NotificationsHandler exposes direct notification dispatch for case
// workers, outside the automatic match alerts.
type NotificationsHandler struct {
	dispatcher *notify.Dispatcher
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(d *notify.Dispatcher) *NotificationsHandler {
	return &NotificationsHandler{dispatcher: d}
}

// SendRequest is a manual notification dispatch.
type SendRequest struct {
	CaseID         string           `json:"case_id"`
	Recipient      notify.Recipient `json:"recipient"`
	Channels       []string         `json:"channels"`
	Subject        string           `json:"subject"`
	Body           string           `json:"body"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// Send dispatches a message over the requested channels and returns the
// per-channel outcomes. Partial success returns 200 with mixed outcomes.
func (h *NotificationsHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Body == "" {
		respondError(w, http.StatusBadRequest, "message body is required")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	outcomes, err := h.dispatcher.Send(r.Context(), notify.Request{
		CaseID:         req.CaseID,
		Recipient:      req.Recipient,
		Channels:       req.Channels,
		Message:        notify.Message{Subject: req.Subject, Body: req.Body},
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if !notify.AnySent(outcomes) {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, map[string]any{
		"idempotency_key": req.IdempotencyKey,
		"outcomes":        outcomes,
	})
}

// Channels lists the configured notification channels.
func (h *NotificationsHandler) Channels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"channels": h.dispatcher.Channels()})
}

// History returns the recorded delivery attempts for an idempotency key,
// grouped by channel.
func (h *NotificationsHandler) History(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	attempts := map[string][]notify.Attempt{}
	for _, name := range h.dispatcher.Channels() {
		if a := h.dispatcher.History(key, name); len(a) > 0 {
			attempts[name] = a
		}
	}
	if len(attempts) == 0 {
		respondError(w, http.StatusNotFound, "no delivery history for this key")
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}
