// Package registry is the authoritative store of missing-person cases and
// unidentified sightings. It owns both lifecycle state machines, keeps a
// transition audit trail per entity, and guards every record with its own
// lock so unrelated pipelines never serialize against each other.
package registry

import (
	"time"

	"github.com/reunitehq/reunite/internal/matching"
)

// CaseStatus is the lifecycle state of a missing-person case.
type CaseStatus string

const (
	// CaseActive cases participate in matching.
	CaseActive CaseStatus = "active"
	// CaseMatched cases have a confirmed match awaiting reviewer sign-off.
	CaseMatched CaseStatus = "matched"
	// CaseResolved cases were reviewed and closed. Terminal.
	CaseResolved CaseStatus = "resolved"
	// CaseWithdrawn cases were soft-deleted on family request. Terminal.
	CaseWithdrawn CaseStatus = "withdrawn"
)

// SightingStatus is the lifecycle state of an unidentified sighting.
type SightingStatus string

const (
	// SightingUnmatched sightings have not matched any case yet.
	SightingUnmatched SightingStatus = "unmatched"
	// SightingUnderReview sightings produced possible matches awaiting a
	// human decision.
	SightingUnderReview SightingStatus = "under_review"
	// SightingResolved sightings were matched or manually closed. Terminal.
	SightingResolved SightingStatus = "resolved"
)

// Trigger names the event that caused a lifecycle transition. Recorded in
// the audit trail.
type Trigger string

const (
	TriggerConfirmedMatch    Trigger = "confirmed_match"
	TriggerPossibleMatch     Trigger = "possible_match"
	TriggerReviewerConfirmed Trigger = "reviewer_confirmed"
	TriggerReviewerRejected  Trigger = "reviewer_rejected"
	TriggerReviewerResolved  Trigger = "reviewer_resolved"
	TriggerWithdrawal        Trigger = "withdrawal"
)

// MissingPersonCase is a reported missing person. Descriptive fields come
// from the registration form; embeddings come from the embedding service.
// The Embeddings slice is treated as immutable once returned from the store.
type MissingPersonCase struct {
	ID                   string               `json:"id"`
	FullName             string               `json:"full_name"`
	Age                  int                  `json:"age"`
	Gender               string               `json:"gender"`
	LastSeenLocation     string               `json:"last_seen_location"`
	LastSeenDate         time.Time            `json:"last_seen_date"`
	Height               string               `json:"height,omitempty"`
	Weight               string               `json:"weight,omitempty"`
	ClothingDescription  string               `json:"clothing_description,omitempty"`
	DistinctiveFeatures  string               `json:"distinctive_features,omitempty"`
	ReporterName         string               `json:"reporter_name,omitempty"`
	ReporterContact      string               `json:"reporter_contact,omitempty"`
	Embeddings           []matching.Embedding `json:"-"`
	Status               CaseStatus           `json:"status"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// UnidentifiedSighting is a face captured in the field awaiting
// identification.
type UnidentifiedSighting struct {
	ID               string             `json:"id"`
	CapturedAt       time.Time          `json:"captured_at"`
	CaptureLocation  string             `json:"capture_location"`
	EstimatedAgeRange string            `json:"estimated_age_range,omitempty"`
	EstimatedGender  string             `json:"estimated_gender,omitempty"`
	Embedding        matching.Embedding `json:"-"`
	Status           SightingStatus     `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// TransitionRecord is one audited lifecycle transition.
type TransitionRecord struct {
	EntityID string    `json:"entity_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Trigger  Trigger   `json:"trigger"`
	At       time.Time `json:"at"`
}

// caseTransitions is the legal edge set of the case state machine.
// Transitions are monotonic except Matched -> Active (reviewer rejection).
// A withdrawal request is honored from any state; Withdrawn has no
// outgoing edges.
var caseTransitions = map[CaseStatus]map[CaseStatus]bool{
	CaseActive: {
		CaseMatched:   true,
		CaseWithdrawn: true,
	},
	CaseMatched: {
		CaseResolved:  true,
		CaseActive:    true, // reviewer rejected the proposed match
		CaseWithdrawn: true,
	},
	CaseResolved: {
		CaseWithdrawn: true,
	},
	CaseWithdrawn: {},
}

// sightingTransitions is the legal edge set of the sighting state machine.
var sightingTransitions = map[SightingStatus]map[SightingStatus]bool{
	SightingUnmatched: {
		SightingUnderReview: true, // possible decision
		SightingResolved:    true, // confirmed decision resolves directly
	},
	SightingUnderReview: {
		SightingResolved: true,
	},
	SightingResolved: {},
}

// ValidCaseTransition reports whether from -> to is a legal case edge.
func ValidCaseTransition(from, to CaseStatus) bool {
	return caseTransitions[from][to]
}

// ValidSightingTransition reports whether from -> to is a legal sighting
// edge.
func ValidSightingTransition(from, to SightingStatus) bool {
	return sightingTransitions[from][to]
}
