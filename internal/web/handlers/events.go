package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/reunitehq/reunite/internal/coordinator"
)

// EventsHandler streams lifecycle transitions to dashboards over SSE.
type EventsHandler struct {
	broadcaster *coordinator.Broadcaster
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(b *coordinator.Broadcaster) *EventsHandler {
	return &EventsHandler{broadcaster: b}
}

// Stream sends every lifecycle transition as an SSE event until the client
// disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	eventCh := h.broadcaster.AddListener()
	defer h.broadcaster.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "connected", map[string]string{"status": "listening"})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, "transition", event)
		}
	}
}

// sendSSEEvent writes a single server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
