package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/reunitehq/reunite/internal/config"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/notify"
	"github.com/reunitehq/reunite/internal/registry"
)

func TestBuildChannelsSkipsUnconfiguredGateways(t *testing.T) {
	cfg := &config.NotifyConfig{
		Channels:        []string{"sms", "email"},
		EmailGatewayURL: "http://gateway.local",
		EmailSender:     "alerts@example.com",
	}

	channels := buildChannels(cfg)
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	if channels[0].Name() != notify.ChannelEmail {
		t.Errorf("expected email channel, got %s", channels[0].Name())
	}
}

// An enabled channel without a gateway must not block alerts on the
// channels that do have one: with only the email gateway configured, a
// confirmed match still reaches the reporter by email.
func TestAlertsDeliverWithPartialChannelConfig(t *testing.T) {
	var mu sync.Mutex
	deliveries := 0
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	cfg := &config.Config{
		Matching: config.MatchingConfig{
			ConfirmMaxDistance:  0.15,
			PossibleMaxDistance: 0.30,
			AmbiguityMargin:     0.05,
			MaxCandidates:       5,
			StateRetries:        3,
		},
		Notify: config.NotifyConfig{
			Channels:        []string{"sms", "email"},
			EmailGatewayURL: gateway.URL,
			EmailSender:     "alerts@example.com",
		},
	}

	store := registry.NewStore(4)
	index := matching.NewLinearIndex(4)
	dispatcher := notify.NewDispatcher(buildChannels(&cfg.Notify), notify.DispatcherConfig{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		RatePerSecond:  1000,
		Burst:          100,
	})

	coord, err := newCoordinator(cfg, store, index, dispatcher)
	if err != nil {
		t.Fatalf("building coordinator: %v", err)
	}

	ctx := context.Background()
	if _, err := coord.RegisterCase(ctx, registry.CaseDraft{
		FullName:        "Marta Novotná",
		ReporterContact: "rodina.novotna@example.com",
		Embeddings:      []matching.Embedding{{1, 0, 0, 0}},
	}); err != nil {
		t.Fatalf("registering case: %v", err)
	}

	res, err := coord.SubmitSighting(ctx, registry.SightingDraft{
		CapturedAt:      time.Now(),
		CaptureLocation: "Brno",
		Embedding:       matching.Embedding{1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("submitting sighting: %v", err)
	}
	if res.Decision.Kind != matching.DecisionConfirmed {
		t.Fatalf("expected confirmed decision, got %s", res.Decision.Kind)
	}

	if len(res.Notifications) != 1 {
		t.Fatalf("expected 1 notification outcome, got %d: %+v", len(res.Notifications), res.Notifications)
	}
	if res.Notifications[0].Channel != notify.ChannelEmail || res.Notifications[0].State != notify.OutcomeSent {
		t.Errorf("unexpected outcome: %+v", res.Notifications[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if deliveries != 1 {
		t.Errorf("expected 1 gateway delivery, got %d", deliveries)
	}
}
