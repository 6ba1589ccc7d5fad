// Package coordinator runs the sighting workflow: record, query the
// similarity index, evaluate the match policy, apply lifecycle
// transitions, and dispatch notifications.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/notify"
	"github.com/reunitehq/reunite/internal/registry"
)

// Stage is how far a sighting made it through the pipeline.
type Stage string

const (
	StageReceived  Stage = "received"
	StageQueried   Stage = "queried"
	StageEvaluated Stage = "evaluated"
	StageApplied   Stage = "applied"
	StageNotified  Stage = "notified"
	// StageSkipped is the terminal stage of a sighting that matched
	// nothing: recorded, evaluated, no transition to apply.
	StageSkipped Stage = "skipped"
)

// defaultStateRetries bounds how often a sighting is re-evaluated after
// losing a transition race before the degraded result is surfaced.
const defaultStateRetries = 3

// Result is the outcome of one sighting submission. Notifications may
// show partial failure even when the match itself was applied; the
// applied transitions are never rolled back for a failed notification.
type Result struct {
	SightingID    string            `json:"sighting_id"`
	Stage         Stage             `json:"stage"`
	Decision      matching.Decision `json:"decision"`
	Notifications []notify.Outcome  `json:"notifications,omitempty"`
}

// Config tunes the coordinator.
type Config struct {
	Policy matching.Policy
	// Channels are the notification channels used for match alerts.
	Channels []string
	// StateRetries bounds re-evaluation after a lost transition race.
	StateRetries int
}

// Coordinator wires the registry, the similarity index, and the
// notification dispatcher into the sighting workflow. All index writes go
// through the coordinator so the index never diverges from the registry.
type Coordinator struct {
	store      *registry.Store
	index      matching.Index
	dispatcher *notify.Dispatcher
	events     *Broadcaster

	policy       matching.Policy
	channels     []string
	stateRetries int
}

// New creates a coordinator and hooks the registry's transition stream
// into its broadcaster.
func New(store *registry.Store, index matching.Index, dispatcher *notify.Dispatcher, cfg Config) (*Coordinator, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid match policy: %w", err)
	}
	if cfg.StateRetries <= 0 {
		cfg.StateRetries = defaultStateRetries
	}
	if len(cfg.Channels) == 0 && dispatcher != nil {
		cfg.Channels = dispatcher.Channels()
	}

	c := &Coordinator{
		store:        store,
		index:        index,
		dispatcher:   dispatcher,
		events:       &Broadcaster{},
		policy:       cfg.Policy,
		channels:     cfg.Channels,
		stateRetries: cfg.StateRetries,
	}
	store.SetTransitionHook(func(rec registry.TransitionRecord) {
		c.events.Publish(TransitionEvent{
			EntityID: rec.EntityID,
			From:     rec.From,
			To:       rec.To,
			Trigger:  rec.Trigger,
			At:       rec.At,
		})
	})
	return c, nil
}

// Events exposes the transition stream for SSE listeners.
func (c *Coordinator) Events() *Broadcaster { return c.events }

// Policy returns the active match policy.
func (c *Coordinator) Policy() matching.Policy { return c.policy }

// WarmUp rebuilds the similarity index from every case still eligible for
// matching. Called once on startup after the archive restore.
func (c *Coordinator) WarmUp() error {
	for _, cse := range c.store.MatchableCases() {
		vec := matching.Centroid(cse.Embeddings)
		if err := c.index.Insert(cse.ID, vec, cse.CreatedAt); err != nil {
			return fmt.Errorf("indexing case %s: %w", cse.ID, err)
		}
	}
	return nil
}

// RegisterCase stores a new case and indexes its embedding centroid.
func (c *Coordinator) RegisterCase(ctx context.Context, draft registry.CaseDraft) (string, error) {
	id, err := c.store.RegisterCase(ctx, draft)
	if err != nil {
		return "", err
	}
	cse, err := c.store.GetCase(id)
	if err != nil {
		return "", err
	}
	if err := c.index.Insert(id, matching.Centroid(cse.Embeddings), cse.CreatedAt); err != nil {
		return "", fmt.Errorf("indexing case %s: %w", id, err)
	}
	return id, nil
}

// AppendCaseEmbedding adds a reference photo embedding to a case and
// atomically refreshes its index vector.
func (c *Coordinator) AppendCaseEmbedding(ctx context.Context, caseID string, emb matching.Embedding) error {
	if err := c.store.AppendCaseEmbedding(ctx, caseID, emb); err != nil {
		return err
	}
	cse, err := c.store.GetCase(caseID)
	if err != nil {
		return err
	}
	return c.index.Replace(caseID, matching.Centroid(cse.Embeddings), cse.CreatedAt)
}

// WithdrawCase soft-deletes a case and removes it from matching.
func (c *Coordinator) WithdrawCase(ctx context.Context, caseID string) error {
	if err := c.store.WithdrawCase(ctx, caseID); err != nil {
		return err
	}
	c.index.Remove(caseID)
	return nil
}

// ConfirmCase is the reviewer accepting a matched case. The case resolves,
// leaves the index, and the reporter is told the search is over.
func (c *Coordinator) ConfirmCase(ctx context.Context, caseID string) ([]notify.Outcome, error) {
	if err := c.store.ConfirmMatch(ctx, caseID); err != nil {
		return nil, err
	}
	c.index.Remove(caseID)
	return c.notifyCase(ctx, caseID, notify.TemplateCaseResolved, "", uuid.NewString()), nil
}

// RejectCase is the reviewer rejecting a matched case. The case returns to
// active matching.
func (c *Coordinator) RejectCase(ctx context.Context, caseID string) ([]notify.Outcome, error) {
	if err := c.store.RejectMatch(ctx, caseID); err != nil {
		return nil, err
	}
	return c.notifyCase(ctx, caseID, notify.TemplateMatchRejected, "", uuid.NewString()), nil
}

// ResolveSighting closes an under-review sighting after a reviewer
// decision.
func (c *Coordinator) ResolveSighting(ctx context.Context, sightingID string) error {
	return c.store.TransitionSighting(ctx, sightingID, registry.SightingResolved,
		registry.TriggerReviewerResolved, registry.SightingUnderReview)
}

// SubmitSighting runs the full workflow for one sighting. The sighting is
// recorded before any matching, so a failure downstream never loses the
// capture. When a confirmed match loses the case transition race, the
// query and evaluation re-run against fresh state up to the retry bound;
// after that the degraded result carries the stale error.
func (c *Coordinator) SubmitSighting(ctx context.Context, draft registry.SightingDraft) (Result, error) {
	sightingID, err := c.store.RecordSighting(ctx, draft)
	if err != nil {
		return Result{}, err
	}
	res := Result{SightingID: sightingID, Stage: StageReceived}

	var lastErr error
	for attempt := 0; attempt <= c.stateRetries; attempt++ {
		candidates, err := c.index.Query(draft.Embedding, c.policy.MaxCandidates)
		if err != nil {
			return res, err
		}
		res.Stage = StageQueried

		res.Decision = matching.Evaluate(c.policy, candidates)
		res.Stage = StageEvaluated

		switch res.Decision.Kind {
		case matching.DecisionNoMatch:
			res.Stage = StageSkipped
			return res, nil

		case matching.DecisionPossible:
			if err := c.applyPossible(ctx, sightingID); err != nil {
				return res, err
			}
			res.Stage = StageApplied
			res.Notifications = c.notifyPossible(ctx, sightingID, res.Decision, draft)
			res.Stage = StageNotified
			return res, nil

		case matching.DecisionConfirmed:
			err := c.applyConfirmed(ctx, sightingID, res.Decision.CaseID)
			if errors.Is(err, registry.ErrStaleState) {
				// Lost the race for this case; re-query against
				// current state.
				lastErr = err
				continue
			}
			if errors.Is(err, registry.ErrNotFound) {
				// The case disappeared under us; drop it from the
				// index and re-query.
				c.index.Remove(res.Decision.CaseID)
				lastErr = err
				continue
			}
			if err != nil {
				return res, err
			}
			res.Stage = StageApplied
			res.Notifications = c.notifyCase(ctx, res.Decision.CaseID, notify.TemplateConfirmedMatch, draft.CaptureLocation, sightingID)
			res.Stage = StageNotified
			return res, nil
		}
	}

	return res, fmt.Errorf("sighting %s: evaluation retries exhausted: %w", sightingID, lastErr)
}

// applyConfirmed moves the case to Matched and resolves the sighting.
func (c *Coordinator) applyConfirmed(ctx context.Context, sightingID, caseID string) error {
	if err := c.store.TransitionCase(ctx, caseID, registry.CaseMatched,
		registry.TriggerConfirmedMatch, registry.CaseActive); err != nil {
		return err
	}
	return c.store.TransitionSighting(ctx, sightingID, registry.SightingResolved,
		registry.TriggerConfirmedMatch, registry.SightingUnmatched)
}

// applyPossible parks the sighting for human review. Candidate cases stay
// active.
func (c *Coordinator) applyPossible(ctx context.Context, sightingID string) error {
	return c.store.TransitionSighting(ctx, sightingID, registry.SightingUnderReview,
		registry.TriggerPossibleMatch, registry.SightingUnmatched)
}

// notifyPossible alerts the reporter of every candidate case that a
// sighting is under review.
func (c *Coordinator) notifyPossible(ctx context.Context, sightingID string, decision matching.Decision, draft registry.SightingDraft) []notify.Outcome {
	var outcomes []notify.Outcome
	for _, candidate := range decision.Candidates {
		outcomes = append(outcomes,
			c.notifyCase(ctx, candidate.CaseID, notify.TemplatePossibleMatch, draft.CaptureLocation, sightingID)...)
	}
	return outcomes
}

// notifyCase renders the named template for a case and dispatches it to
// the case reporter. ref identifies the triggering event, so retries of
// the same event deduplicate while distinct events deliver separately.
// Best effort: failures are logged and surfaced in the outcomes, never
// propagated as workflow errors.
func (c *Coordinator) notifyCase(ctx context.Context, caseID, template, location, ref string) []notify.Outcome {
	if c.dispatcher == nil {
		return nil
	}
	cse, err := c.store.GetCase(caseID)
	if err != nil {
		log.Printf("notification for case %s skipped: %v", caseID, err)
		return nil
	}
	if cse.ReporterContact == "" {
		return nil
	}

	msg, err := notify.RenderMessage(template, notify.TemplateData{
		CaseID:   cse.ID,
		FullName: cse.FullName,
		Location: location,
	})
	if err != nil {
		log.Printf("notification for case %s skipped: %v", caseID, err)
		return nil
	}

	outcomes, err := c.dispatcher.Send(ctx, notify.Request{
		CaseID:         cse.ID,
		Recipient:      reporterRecipient(cse),
		Channels:       c.channels,
		Message:        msg,
		IdempotencyKey: cse.ID + ":" + template + ":" + ref,
	})
	if err != nil {
		log.Printf("notification for case %s failed: %v", caseID, err)
		return nil
	}
	if !notify.AnySent(outcomes) {
		log.Printf("notification for case %s failed on every channel", caseID)
	}
	return outcomes
}

// reporterRecipient maps the free-form reporter contact onto channel
// addresses: an address with "@" is an email, anything else a phone
// number usable for both SMS and WhatsApp.
func reporterRecipient(cse registry.MissingPersonCase) notify.Recipient {
	r := notify.Recipient{Name: cse.ReporterName}
	if strings.Contains(cse.ReporterContact, "@") {
		r.Email = cse.ReporterContact
	} else {
		r.Phone = cse.ReporterContact
		r.WhatsApp = cse.ReporterContact
	}
	return r
}
