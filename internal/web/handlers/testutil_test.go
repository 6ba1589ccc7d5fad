package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reunitehq/reunite/internal/coordinator"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/notify"
	"github.com/reunitehq/reunite/internal/registry"
)

// recordingChannel is a notify.Channel that accepts every delivery.
type recordingChannel struct {
	name string

	mu    sync.Mutex
	calls int
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(context.Context, notify.Recipient, notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *recordingChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// testEnv wires an in-memory engine for handler tests.
type testEnv struct {
	coordinator *coordinator.Coordinator
	store       *registry.Store
	dispatcher  *notify.Dispatcher
	sms         *recordingChannel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := registry.NewStore(4)
	index := matching.NewLinearIndex(4)
	sms := &recordingChannel{name: "sms"}
	dispatcher := notify.NewDispatcher([]notify.Channel{sms}, notify.DispatcherConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		RatePerSecond:  10000,
		Burst:          100,
	})
	c, err := coordinator.New(store, index, dispatcher, coordinator.Config{
		Policy: matching.Policy{
			ConfirmMaxDistance:  0.15,
			PossibleMaxDistance: 0.30,
			AmbiguityMargin:     0.05,
			MaxCandidates:       5,
		},
	})
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}
	return &testEnv{coordinator: c, store: store, dispatcher: dispatcher, sms: sms}
}

// registerCase registers a test case directly through the coordinator.
func (env *testEnv) registerCase(t *testing.T, name string, emb matching.Embedding) string {
	t.Helper()
	id, err := env.coordinator.RegisterCase(context.Background(), registry.CaseDraft{
		FullName:         name,
		Age:              29,
		LastSeenLocation: "Ostrava",
		LastSeenDate:     time.Now().Add(-24 * time.Hour),
		ReporterName:     "Reporter",
		ReporterContact:  "+420777000111",
		Embeddings:       []matching.Embedding{emb},
	})
	if err != nil {
		t.Fatalf("case registration failed: %v", err)
	}
	return id
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeJSON decodes a response body, failing the test on error.
func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
