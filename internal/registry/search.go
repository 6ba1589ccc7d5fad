package registry

import (
	"iter"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Filter narrows a case search. Zero-valued fields match everything;
// populated fields combine with logical AND.
type Filter struct {
	// Status restricts to a single lifecycle state.
	Status CaseStatus
	// Query is matched case- and diacritic-insensitively against the
	// case's name and ID.
	Query string
	// From/To bound the last-seen date, inclusive.
	From time.Time
	To   time.Time
}

// SearchCases returns a lazy sequence of cases matching the filter.
// Callers may stop early; entries are read one at a time under their own
// lock, so a long iteration never blocks writers globally. Results are
// copies and safe to hold.
func (s *Store) SearchCases(f Filter) iter.Seq[MissingPersonCase] {
	query := normalizeSearchTerm(f.Query)

	return func(yield func(MissingPersonCase) bool) {
		s.mu.RLock()
		entries := make([]*caseEntry, 0, len(s.cases))
		for _, e := range s.cases {
			entries = append(entries, e)
		}
		s.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			c := e.c
			e.mu.Unlock()

			if !matchesFilter(c, f, query) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

func matchesFilter(c MissingPersonCase, f Filter, normalizedQuery string) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if normalizedQuery != "" {
		name := normalizeSearchTerm(c.FullName)
		id := strings.ToLower(c.ID)
		if !strings.Contains(name, normalizedQuery) && !strings.Contains(id, normalizedQuery) {
			return false
		}
	}
	if !f.From.IsZero() && c.LastSeenDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.LastSeenDate.After(f.To) {
		return false
	}
	return true
}

// removeDiacritics strips diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func removeDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// normalizeSearchTerm normalizes a name or query for comparison
// (lowercase, no diacritics, dashes treated as spaces).
func normalizeSearchTerm(s string) string {
	s = removeDiacritics(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", " ")
	return strings.TrimSpace(s)
}
