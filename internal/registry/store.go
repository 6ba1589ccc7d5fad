package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reunitehq/reunite/internal/matching"
)

var (
	// ErrNotFound indicates the referenced case or sighting does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates an attempted illegal state change.
	// The entity's state is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStaleState indicates the entity's status changed between the
	// caller's snapshot and the transition commit. A benign concurrency
	// conflict: the caller re-runs its evaluation against fresh state.
	ErrStaleState = errors.New("stale state")
)

// TransitionHook is invoked after every committed transition, outside the
// entity's lock. Used to feed the dashboard event stream.
type TransitionHook func(TransitionRecord)

// caseEntry pairs a case with its own lock and audit trail.
type caseEntry struct {
	mu      sync.Mutex
	c       MissingPersonCase
	history []TransitionRecord
}

// sightingEntry pairs a sighting with its own lock and audit trail.
type sightingEntry struct {
	mu      sync.Mutex
	s       UnidentifiedSighting
	history []TransitionRecord
}

// Store is the in-memory case repository. The outer maps are guarded by a
// read-write lock held only long enough to find an entry; each entry then
// serializes its own mutations independently, so pipelines touching
// different cases proceed fully in parallel.
type Store struct {
	mu        sync.RWMutex
	cases     map[string]*caseEntry
	sightings map[string]*sightingEntry

	dim     int
	archive Archive
	hook    TransitionHook
	now     func() time.Time
}

// NewStore creates an empty repository for embeddings of the given
// dimension.
func NewStore(dim int) *Store {
	return &Store{
		cases:     make(map[string]*caseEntry),
		sightings: make(map[string]*sightingEntry),
		dim:       dim,
		now:       time.Now,
	}
}

// SetArchive attaches a write-through persistence collaborator. Archive
// failures are logged and never roll back an in-memory transition: the
// transition is the durable fact of record for the running system.
func (s *Store) SetArchive(a Archive) {
	s.archive = a
}

// SetTransitionHook registers a callback fired after each committed
// transition.
func (s *Store) SetTransitionHook(hook TransitionHook) {
	s.hook = hook
}

// CaseDraft carries the registration form fields for a new case.
type CaseDraft struct {
	FullName            string
	Age                 int
	Gender              string
	LastSeenLocation    string
	LastSeenDate        time.Time
	Height              string
	Weight              string
	ClothingDescription string
	DistinctiveFeatures string
	ReporterName        string
	ReporterContact     string
	Embeddings          []matching.Embedding
}

// RegisterCase stores a new case in Active state and returns its ID.
// A case must carry at least one valid embedding before it can participate
// in matching, so registration rejects drafts without one.
func (s *Store) RegisterCase(ctx context.Context, draft CaseDraft) (string, error) {
	if draft.FullName == "" {
		return "", fmt.Errorf("case registration requires a name")
	}
	if len(draft.Embeddings) == 0 {
		return "", fmt.Errorf("case registration: %w: at least one embedding is required", matching.ErrInvalidEmbedding)
	}
	for _, emb := range draft.Embeddings {
		if err := emb.Validate(s.dim); err != nil {
			return "", fmt.Errorf("case registration: %w", err)
		}
	}

	now := s.now()
	c := MissingPersonCase{
		ID:                  uuid.NewString(),
		FullName:            draft.FullName,
		Age:                 draft.Age,
		Gender:              draft.Gender,
		LastSeenLocation:    draft.LastSeenLocation,
		LastSeenDate:        draft.LastSeenDate,
		Height:              draft.Height,
		Weight:              draft.Weight,
		ClothingDescription: draft.ClothingDescription,
		DistinctiveFeatures: draft.DistinctiveFeatures,
		ReporterName:        draft.ReporterName,
		ReporterContact:     draft.ReporterContact,
		Embeddings:          draft.Embeddings,
		Status:              CaseActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	s.mu.Lock()
	s.cases[c.ID] = &caseEntry{c: c}
	s.mu.Unlock()

	s.archiveCase(ctx, c)
	return c.ID, nil
}

// SightingDraft carries the capture metadata for a new sighting.
type SightingDraft struct {
	CapturedAt        time.Time
	CaptureLocation   string
	EstimatedAgeRange string
	EstimatedGender   string
	Embedding         matching.Embedding
}

// RecordSighting stores a new sighting in Unmatched state and returns its
// ID. The embedding must already be validated by the coordinator; it is
// re-checked here so the repository never holds a malformed record.
func (s *Store) RecordSighting(ctx context.Context, draft SightingDraft) (string, error) {
	if err := draft.Embedding.Validate(s.dim); err != nil {
		return "", fmt.Errorf("recording sighting: %w", err)
	}

	now := s.now()
	sg := UnidentifiedSighting{
		ID:                uuid.NewString(),
		CapturedAt:        draft.CapturedAt,
		CaptureLocation:   draft.CaptureLocation,
		EstimatedAgeRange: draft.EstimatedAgeRange,
		EstimatedGender:   draft.EstimatedGender,
		Embedding:         draft.Embedding,
		Status:            SightingUnmatched,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	s.mu.Lock()
	s.sightings[sg.ID] = &sightingEntry{s: sg}
	s.mu.Unlock()

	s.archiveSighting(ctx, sg)
	return sg.ID, nil
}

// GetCase returns a copy of the case with the given ID.
func (s *Store) GetCase(id string) (MissingPersonCase, error) {
	entry, err := s.caseEntry(id)
	if err != nil {
		return MissingPersonCase{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.c, nil
}

// GetSighting returns a copy of the sighting with the given ID.
func (s *Store) GetSighting(id string) (UnidentifiedSighting, error) {
	entry, err := s.sightingEntry(id)
	if err != nil {
		return UnidentifiedSighting{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.s, nil
}

// TransitionCase moves a case to a new status. The caller passes the status
// it observed when it decided on the transition; if the case has moved on
// since that snapshot the commit fails with ErrStaleState and the caller
// re-evaluates. An edge missing from the state machine fails with
// ErrInvalidTransition and leaves the case untouched.
func (s *Store) TransitionCase(ctx context.Context, id string, to CaseStatus, trigger Trigger, expectedFrom CaseStatus) error {
	entry, err := s.caseEntry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	current := entry.c.Status
	if current != expectedFrom {
		entry.mu.Unlock()
		return fmt.Errorf("case %s is %s, expected %s: %w", id, current, expectedFrom, ErrStaleState)
	}
	if !ValidCaseTransition(current, to) {
		entry.mu.Unlock()
		return fmt.Errorf("case %s: %s -> %s: %w", id, current, to, ErrInvalidTransition)
	}

	now := s.now()
	entry.c.Status = to
	entry.c.UpdatedAt = now
	rec := TransitionRecord{
		EntityID: id,
		From:     string(current),
		To:       string(to),
		Trigger:  trigger,
		At:       now,
	}
	entry.history = append(entry.history, rec)
	c := entry.c
	entry.mu.Unlock()

	s.afterTransition(ctx, rec)
	s.archiveCase(ctx, c)
	return nil
}

// TransitionSighting moves a sighting to a new status with the same
// snapshot-validation discipline as TransitionCase.
func (s *Store) TransitionSighting(ctx context.Context, id string, to SightingStatus, trigger Trigger, expectedFrom SightingStatus) error {
	entry, err := s.sightingEntry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	current := entry.s.Status
	if current != expectedFrom {
		entry.mu.Unlock()
		return fmt.Errorf("sighting %s is %s, expected %s: %w", id, current, expectedFrom, ErrStaleState)
	}
	if !ValidSightingTransition(current, to) {
		entry.mu.Unlock()
		return fmt.Errorf("sighting %s: %s -> %s: %w", id, current, to, ErrInvalidTransition)
	}

	now := s.now()
	entry.s.Status = to
	entry.s.UpdatedAt = now
	rec := TransitionRecord{
		EntityID: id,
		From:     string(current),
		To:       string(to),
		Trigger:  trigger,
		At:       now,
	}
	entry.history = append(entry.history, rec)
	sg := entry.s
	entry.mu.Unlock()

	s.afterTransition(ctx, rec)
	s.archiveSighting(ctx, sg)
	return nil
}

// WithdrawCase soft-deletes a case. Legal from any state except Withdrawn
// itself. The record is kept for audit; it only stops participating in
// matching.
func (s *Store) WithdrawCase(ctx context.Context, id string) error {
	entry, err := s.caseEntry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	current := entry.c.Status
	if !ValidCaseTransition(current, CaseWithdrawn) {
		entry.mu.Unlock()
		return fmt.Errorf("case %s: %s -> %s: %w", id, current, CaseWithdrawn, ErrInvalidTransition)
	}
	now := s.now()
	entry.c.Status = CaseWithdrawn
	entry.c.UpdatedAt = now
	rec := TransitionRecord{
		EntityID: id,
		From:     string(current),
		To:       string(CaseWithdrawn),
		Trigger:  TriggerWithdrawal,
		At:       now,
	}
	entry.history = append(entry.history, rec)
	c := entry.c
	entry.mu.Unlock()

	s.afterTransition(ctx, rec)
	s.archiveCase(ctx, c)
	return nil
}

// ConfirmMatch is the reviewer accepting a proposed match: Matched -> Resolved.
func (s *Store) ConfirmMatch(ctx context.Context, id string) error {
	return s.TransitionCase(ctx, id, CaseResolved, TriggerReviewerConfirmed, CaseMatched)
}

// RejectMatch is the reviewer rejecting a proposed match: Matched -> Active.
// The case returns to the matching pool.
func (s *Store) RejectMatch(ctx context.Context, id string) error {
	return s.TransitionCase(ctx, id, CaseActive, TriggerReviewerRejected, CaseMatched)
}

// CaseEdits holds administrative updates to descriptive fields. Nil fields
// are left unchanged; lifecycle status is never editable this way.
type CaseEdits struct {
	LastSeenLocation    *string
	LastSeenDate        *time.Time
	Height              *string
	Weight              *string
	ClothingDescription *string
	DistinctiveFeatures *string
	ReporterName        *string
	ReporterContact     *string
}

// UpdateCaseDetails applies administrative edits to a case's descriptive
// fields.
func (s *Store) UpdateCaseDetails(ctx context.Context, id string, edits CaseEdits) error {
	entry, err := s.caseEntry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if edits.LastSeenLocation != nil {
		entry.c.LastSeenLocation = *edits.LastSeenLocation
	}
	if edits.LastSeenDate != nil {
		entry.c.LastSeenDate = *edits.LastSeenDate
	}
	if edits.Height != nil {
		entry.c.Height = *edits.Height
	}
	if edits.Weight != nil {
		entry.c.Weight = *edits.Weight
	}
	if edits.ClothingDescription != nil {
		entry.c.ClothingDescription = *edits.ClothingDescription
	}
	if edits.DistinctiveFeatures != nil {
		entry.c.DistinctiveFeatures = *edits.DistinctiveFeatures
	}
	if edits.ReporterName != nil {
		entry.c.ReporterName = *edits.ReporterName
	}
	if edits.ReporterContact != nil {
		entry.c.ReporterContact = *edits.ReporterContact
	}
	entry.c.UpdatedAt = s.now()
	c := entry.c
	entry.mu.Unlock()

	s.archiveCase(ctx, c)
	return nil
}

// AppendCaseEmbedding attaches an additional embedding to a case, for
// families submitting more photographs. The caller re-indexes the case.
func (s *Store) AppendCaseEmbedding(ctx context.Context, id string, emb matching.Embedding) error {
	if err := emb.Validate(s.dim); err != nil {
		return fmt.Errorf("appending embedding to case %s: %w", id, err)
	}
	entry, err := s.caseEntry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	embeddings := make([]matching.Embedding, 0, len(entry.c.Embeddings)+1)
	embeddings = append(embeddings, entry.c.Embeddings...)
	embeddings = append(embeddings, emb)
	entry.c.Embeddings = embeddings
	entry.c.UpdatedAt = s.now()
	c := entry.c
	entry.mu.Unlock()

	s.archiveCase(ctx, c)
	return nil
}

// CaseHistory returns the audited transitions of a case, oldest first.
func (s *Store) CaseHistory(id string) ([]TransitionRecord, error) {
	entry, err := s.caseEntry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]TransitionRecord, len(entry.history))
	copy(out, entry.history)
	return out, nil
}

// SightingHistory returns the audited transitions of a sighting, oldest
// first.
func (s *Store) SightingHistory(id string) ([]TransitionRecord, error) {
	entry, err := s.sightingEntry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]TransitionRecord, len(entry.history))
	copy(out, entry.history)
	return out, nil
}

// MatchableCases returns all cases eligible for similarity queries: Active
// cases plus Matched ones, which stay queryable for re-evaluation until a
// reviewer closes them.
func (s *Store) MatchableCases() []MissingPersonCase {
	s.mu.RLock()
	entries := make([]*caseEntry, 0, len(s.cases))
	for _, e := range s.cases {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]MissingPersonCase, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.c.Status == CaseActive || e.c.Status == CaseMatched {
			out = append(out, e.c)
		}
		e.mu.Unlock()
	}
	return out
}

// PendingSightings returns sightings stuck in UnderReview so administrators
// can resolve them manually.
func (s *Store) PendingSightings() []UnidentifiedSighting {
	s.mu.RLock()
	entries := make([]*sightingEntry, 0, len(s.sightings))
	for _, e := range s.sightings {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]UnidentifiedSighting, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.s.Status == SightingUnderReview {
			out = append(out, e.s)
		}
		e.mu.Unlock()
	}
	return out
}

// Counts returns the number of cases and sightings stored, for stats.
func (s *Store) Counts() (cases, sightings int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases), len(s.sightings)
}

func (s *Store) caseEntry(id string) (*caseEntry, error) {
	s.mu.RLock()
	entry, ok := s.cases[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return entry, nil
}

func (s *Store) sightingEntry(id string) (*sightingEntry, error) {
	s.mu.RLock()
	entry, ok := s.sightings[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sighting %s: %w", id, ErrNotFound)
	}
	return entry, nil
}

func (s *Store) afterTransition(ctx context.Context, rec TransitionRecord) {
	if s.hook != nil {
		s.hook(rec)
	}
	if s.archive != nil {
		if err := s.archive.SaveTransition(ctx, rec); err != nil {
			log.Printf("archive: saving transition for %s: %v", rec.EntityID, err)
		}
	}
}

func (s *Store) archiveCase(ctx context.Context, c MissingPersonCase) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveCase(ctx, c); err != nil {
		log.Printf("archive: saving case %s: %v", c.ID, err)
	}
}

func (s *Store) archiveSighting(ctx context.Context, sg UnidentifiedSighting) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveSighting(ctx, sg); err != nil {
		log.Printf("archive: saving sighting %s: %v", sg.ID, err)
	}
}
