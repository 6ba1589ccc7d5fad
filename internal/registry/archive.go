package registry

import "context"

// Archive is the optional persistence collaborator behind the in-memory
// store. Implementations persist full snapshots of entities and the audit
// trail; the store treats every call as best-effort and never lets an
// archive failure undo a committed transition.
type Archive interface {
	SaveCase(ctx context.Context, c MissingPersonCase) error
	SaveSighting(ctx context.Context, s UnidentifiedSighting) error
	SaveTransition(ctx context.Context, rec TransitionRecord) error
	LoadCases(ctx context.Context) ([]MissingPersonCase, error)
	LoadSightings(ctx context.Context) ([]UnidentifiedSighting, error)
}

// Restore repopulates the store from archived entities, keeping their IDs,
// statuses, and timestamps. Called once at startup before the store is
// shared; it is not safe to call concurrently with other operations.
func (s *Store) Restore(cases []MissingPersonCase, sightings []UnidentifiedSighting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cases {
		s.cases[c.ID] = &caseEntry{c: c}
	}
	for _, sg := range sightings {
		s.sightings[sg.ID] = &sightingEntry{s: sg}
	}
}
