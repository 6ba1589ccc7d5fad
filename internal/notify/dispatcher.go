package notify

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OutcomeState is the terminal state of one channel within a request.
type OutcomeState string

const (
	// OutcomeSent means the channel delivered the message.
	OutcomeSent OutcomeState = "sent"
	// OutcomeFailed means the channel exhausted its retries or hit a
	// permanent failure.
	OutcomeFailed OutcomeState = "failed"
	// OutcomeDuplicate means an earlier request with the same idempotency
	// key already delivered on this channel, so nothing was sent.
	OutcomeDuplicate OutcomeState = "duplicate"
)

// Request is one logical notification. The idempotency key makes repeated
// sends of the same logical request safe.
type Request struct {
	CaseID         string    `json:"case_id"`
	Recipient      Recipient `json:"recipient"`
	Channels       []string  `json:"channels"`
	Message        Message   `json:"-"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Outcome is the per-channel result of a Send call. Partial success across
// channels is a valid terminal result and is surfaced explicitly.
type Outcome struct {
	Channel  string       `json:"channel"`
	State    OutcomeState `json:"state"`
	Attempts []Attempt    `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// DispatcherConfig tunes retry and throughput behavior.
type DispatcherConfig struct {
	// MaxRetries bounds delivery attempts per channel (first try included).
	MaxRetries int
	// InitialBackoff is the delay before the second attempt; it doubles
	// per retry with jitter.
	InitialBackoff time.Duration
	// RatePerSecond and Burst bound gateway request throughput per channel.
	RatePerSecond float64
	Burst         int
}

// DefaultDispatcherConfig returns the deployment defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		RatePerSecond:  5,
		Burst:          10,
	}
}

// ledgerKey identifies attempt history: one logical request on one channel.
type ledgerKey struct {
	idempotencyKey string
	channel        string
}

// ledgerEntry serializes concurrent sends of the same logical request on
// the same channel and remembers whether one already succeeded.
type ledgerEntry struct {
	mu        sync.Mutex
	delivered bool
	attempts  []Attempt
}

// Dispatcher fans a request out to its channels, each with independent
// retry, and aggregates per-channel outcomes.
type Dispatcher struct {
	channels []Channel
	cfg      DispatcherConfig
	limiters map[string]*rate.Limiter

	mu     sync.Mutex
	ledger map[ledgerKey]*ledgerEntry
}

// NewDispatcher creates a dispatcher over the configured channel set.
func NewDispatcher(channels []Channel, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultDispatcherConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultDispatcherConfig().InitialBackoff
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultDispatcherConfig().RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultDispatcherConfig().Burst
	}

	limiters := make(map[string]*rate.Limiter, len(channels))
	for _, ch := range channels {
		limiters[ch.Name()] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return &Dispatcher{
		channels: channels,
		cfg:      cfg,
		limiters: limiters,
		ledger:   make(map[ledgerKey]*ledgerEntry),
	}
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// Send delivers the request over every requested channel. Channels are
// independent: each runs its own retry loop and a failure on one never
// blocks another. The returned slice has one outcome per requested
// channel, in request order. Send returns an error only for requests that
// cannot be attempted at all (unknown channel, missing idempotency key).
func (d *Dispatcher) Send(ctx context.Context, req Request) ([]Outcome, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("notification request requires an idempotency key")
	}
	channels, err := ResolveChannels(req.Channels, d.channels)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.sendOne(ctx, ch, req)
		}()
	}
	wg.Wait()
	return outcomes, nil
}

// sendOne runs the retry loop for a single channel.
func (d *Dispatcher) sendOne(ctx context.Context, ch Channel, req Request) Outcome {
	entry := d.entry(ledgerKey{idempotencyKey: req.IdempotencyKey, channel: ch.Name()})

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.delivered {
		return Outcome{
			Channel:  ch.Name(),
			State:    OutcomeDuplicate,
			Attempts: append([]Attempt(nil), entry.attempts...),
		}
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		if err := d.limiters[ch.Name()].Wait(ctx); err != nil {
			lastErr = err
			break
		}

		err := ch.Deliver(ctx, req.Recipient, req.Message)
		if err == nil {
			entry.delivered = true
			entry.attempts = append(entry.attempts, Attempt{At: time.Now(), State: AttemptSent})
			return Outcome{
				Channel:  ch.Name(),
				State:    OutcomeSent,
				Attempts: append([]Attempt(nil), entry.attempts...),
			}
		}
		lastErr = err

		if ctx.Err() != nil || Classify(err) == Permanent || attempt == d.cfg.MaxRetries {
			entry.attempts = append(entry.attempts, Attempt{At: time.Now(), State: AttemptFailed, Reason: err.Error()})
			break
		}

		entry.attempts = append(entry.attempts, Attempt{At: time.Now(), State: AttemptRetrying, Reason: err.Error()})
		if err := sleepBackoff(ctx, d.cfg.InitialBackoff, attempt); err != nil {
			lastErr = err
			break
		}
	}

	out := Outcome{
		Channel:  ch.Name(),
		State:    OutcomeFailed,
		Attempts: append([]Attempt(nil), entry.attempts...),
	}
	if lastErr != nil {
		out.Error = lastErr.Error()
	}
	return out
}

// History returns the recorded attempts for an idempotency key and
// channel, for the administrative view of stuck notifications.
func (d *Dispatcher) History(idempotencyKey, channel string) []Attempt {
	d.mu.Lock()
	entry, ok := d.ledger[ledgerKey{idempotencyKey: idempotencyKey, channel: channel}]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]Attempt(nil), entry.attempts...)
}

func (d *Dispatcher) entry(key ledgerKey) *ledgerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.ledger[key]
	if !ok {
		entry = &ledgerEntry{}
		d.ledger[key] = entry
	}
	return entry
}

// sleepBackoff waits for the exponential backoff delay of the given
// attempt, with up to 25% jitter, or returns early when the context is
// cancelled. Cancellation here leaves no partial external side effects:
// nothing was sent for the aborted attempt.
func sleepBackoff(ctx context.Context, initial time.Duration, attempt int) error {
	delay := initial << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AnySent reports whether at least one channel delivered, for surfacing
// partial success.
func AnySent(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.State == OutcomeSent || o.State == OutcomeDuplicate {
			return true
		}
	}
	return false
}
