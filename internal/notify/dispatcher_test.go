package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeChannel plays back a scripted sequence of delivery results. Calls
// past the end of the script succeed.
type fakeChannel struct {
	name   string
	script []error

	mu    sync.Mutex
	calls int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, _ Recipient, _ Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.script) {
		return f.script[call]
	}
	return nil
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDispatcher(channels ...Channel) *Dispatcher {
	return NewDispatcher(channels, DispatcherConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		RatePerSecond:  10000,
		Burst:          100,
	})
}

func testRequest(channels ...string) Request {
	return Request{
		CaseID:         "case-1",
		Recipient:      Recipient{Name: "Jana Svobodová", Phone: "+420600100200", Email: "jana@example.com"},
		Channels:       channels,
		Message:        Message{Subject: "test", Body: "test body"},
		IdempotencyKey: "key-1",
	}
}

func outcomeFor(t *testing.T, outcomes []Outcome, channel string) Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.Channel == channel {
			return o
		}
	}
	t.Fatalf("no outcome for channel %q in %+v", channel, outcomes)
	return Outcome{}
}

func TestDispatcherPartialSuccess(t *testing.T) {
	// SMS times out twice and then recovers; email hits a hard failure.
	sms := &fakeChannel{name: "sms", script: []error{
		transientErr("gateway status 504: upstream timeout"),
		transientErr("gateway status 504: upstream timeout"),
		nil,
	}}
	email := &fakeChannel{name: "email", script: []error{
		permanentErr("gateway status 400: unknown mailbox"),
	}}
	d := testDispatcher(sms, email)

	outcomes, err := d.Send(context.Background(), testRequest("sms", "email"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	smsOut := outcomeFor(t, outcomes, "sms")
	if smsOut.State != OutcomeSent {
		t.Errorf("expected sms sent, got %s (%s)", smsOut.State, smsOut.Error)
	}
	if len(smsOut.Attempts) != 3 {
		t.Errorf("expected 3 sms attempts, got %d", len(smsOut.Attempts))
	}
	if smsOut.Attempts[0].State != AttemptRetrying || smsOut.Attempts[2].State != AttemptSent {
		t.Errorf("unexpected sms attempt states: %+v", smsOut.Attempts)
	}

	emailOut := outcomeFor(t, outcomes, "email")
	if emailOut.State != OutcomeFailed {
		t.Errorf("expected email failed, got %s", emailOut.State)
	}
	if email.callCount() != 1 {
		t.Errorf("permanent failure must not retry, got %d calls", email.callCount())
	}

	if !AnySent(outcomes) {
		t.Error("expected partial success to count as sent")
	}
}

func TestDispatcherRetryExhaustion(t *testing.T) {
	sms := &fakeChannel{name: "sms", script: []error{
		transientErr("gateway unreachable"),
		transientErr("gateway unreachable"),
		transientErr("gateway unreachable"),
		nil, // never reached, retries are capped
	}}
	d := testDispatcher(sms)

	outcomes, err := d.Send(context.Background(), testRequest("sms"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := outcomeFor(t, outcomes, "sms")
	if out.State != OutcomeFailed {
		t.Fatalf("expected failed after exhausted retries, got %s", out.State)
	}
	if sms.callCount() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", sms.callCount())
	}
	if out.Attempts[len(out.Attempts)-1].State != AttemptFailed {
		t.Errorf("last attempt should be failed, got %+v", out.Attempts)
	}
	if AnySent(outcomes) {
		t.Error("nothing was delivered")
	}
}

func TestDispatcherIdempotency(t *testing.T) {
	sms := &fakeChannel{name: "sms"}
	d := testDispatcher(sms)
	req := testRequest("sms")

	first, err := d.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if outcomeFor(t, first, "sms").State != OutcomeSent {
		t.Fatalf("first send should deliver")
	}

	second, err := d.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	out := outcomeFor(t, second, "sms")
	if out.State != OutcomeDuplicate {
		t.Errorf("expected duplicate, got %s", out.State)
	}
	if sms.callCount() != 1 {
		t.Errorf("duplicate send must not deliver again, got %d calls", sms.callCount())
	}
	if !AnySent(second) {
		t.Error("a duplicate of a delivered message counts as sent")
	}
}

func TestDispatcherIdempotencyPerChannel(t *testing.T) {
	// A key only covers channels that actually delivered; a failed
	// channel is retried on the next send of the same request.
	sms := &fakeChannel{name: "sms"}
	email := &fakeChannel{name: "email", script: []error{
		permanentErr("mailbox full"),
		nil,
	}}
	d := testDispatcher(sms, email)
	req := testRequest("sms", "email")

	first, err := d.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if outcomeFor(t, first, "email").State != OutcomeFailed {
		t.Fatalf("email should fail on first send")
	}

	second, err := d.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if outcomeFor(t, second, "sms").State != OutcomeDuplicate {
		t.Errorf("sms already delivered, expected duplicate")
	}
	if outcomeFor(t, second, "email").State != OutcomeSent {
		t.Errorf("email should retry and deliver on second send")
	}
	if sms.callCount() != 1 {
		t.Errorf("sms delivered twice for the same key")
	}
}

func TestDispatcherConcurrentSameKey(t *testing.T) {
	sms := &fakeChannel{name: "sms"}
	d := testDispatcher(sms)
	req := testRequest("sms")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Send(context.Background(), req); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if sms.callCount() != 1 {
		t.Errorf("expected exactly one delivery across concurrent sends, got %d", sms.callCount())
	}
}

func TestDispatcherContextCancellation(t *testing.T) {
	sms := &fakeChannel{name: "sms", script: []error{
		transientErr("gateway unreachable"),
	}}
	d := NewDispatcher([]Channel{sms}, DispatcherConfig{
		MaxRetries:     3,
		InitialBackoff: time.Minute, // backoff long enough that only cancellation ends the wait
		RatePerSecond:  10000,
		Burst:          100,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcomes, err := d.Send(ctx, testRequest("sms"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt backoff")
	}
	if outcomeFor(t, outcomes, "sms").State != OutcomeFailed {
		t.Errorf("cancelled delivery should be failed")
	}
}

func TestDispatcherUnknownChannel(t *testing.T) {
	d := testDispatcher(&fakeChannel{name: "sms"})
	req := testRequest("sms", "carrier-pigeon")

	if _, err := d.Send(context.Background(), req); err == nil {
		t.Fatal("expected error for unknown channel")
	} else if !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("error should name the unknown channel: %v", err)
	}
}

func TestDispatcherRequiresIdempotencyKey(t *testing.T) {
	d := testDispatcher(&fakeChannel{name: "sms"})
	req := testRequest("sms")
	req.IdempotencyKey = ""

	if _, err := d.Send(context.Background(), req); err == nil {
		t.Fatal("expected error for missing idempotency key")
	}
}

func TestDispatcherHistory(t *testing.T) {
	sms := &fakeChannel{name: "sms", script: []error{
		transientErr("gateway status 503: overloaded"),
		nil,
	}}
	d := testDispatcher(sms)

	if _, err := d.Send(context.Background(), testRequest("sms")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	history := d.History("key-1", "sms")
	if len(history) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(history))
	}
	if history[0].State != AttemptRetrying || history[1].State != AttemptSent {
		t.Errorf("unexpected history: %+v", history)
	}
	if d.History("key-1", "email") != nil {
		t.Error("no attempts were made on email")
	}
	if d.History("other-key", "sms") != nil {
		t.Error("no attempts for a different key")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"transient delivery error", transientErr("timeout"), Transient},
		{"permanent delivery error", permanentErr("bad address"), Permanent},
		{"unclassified error", context.DeadlineExceeded, Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
