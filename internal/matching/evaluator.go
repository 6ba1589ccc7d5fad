package matching

import "fmt"

// DecisionKind is the three-way outcome of evaluating a candidate list.
type DecisionKind string

const (
	// DecisionConfirmed means the top candidate cleared the confirmation
	// threshold unambiguously.
	DecisionConfirmed DecisionKind = "confirmed"
	// DecisionPossible means one or more candidates fell in the review
	// band; a human reviewer decides.
	DecisionPossible DecisionKind = "possible"
	// DecisionNoMatch means no candidate was close enough to report.
	DecisionNoMatch DecisionKind = "no_match"
)

// Decision is the result of applying the confidence policy to a ranked
// candidate list.
type Decision struct {
	Kind DecisionKind

	// CaseID and Distance are set for confirmed decisions.
	CaseID   string
	Distance float64

	// Candidates holds the ranked review list for possible decisions,
	// ascending by distance, truncated to the policy's MaxCandidates.
	Candidates []Candidate
}

// Policy holds the deployment-configured confidence thresholds. Exact
// values must be calibrated against a labeled validation set.
type Policy struct {
	// ConfirmMaxDistance is the largest distance treated as a confident
	// match, provided the ambiguity margin holds.
	ConfirmMaxDistance float64
	// PossibleMaxDistance is the largest distance worth surfacing for
	// human review. Must exceed ConfirmMaxDistance.
	PossibleMaxDistance float64
	// AmbiguityMargin is the minimum gap to the runner-up required for a
	// confirmation. A smaller gap downgrades the decision to possible.
	AmbiguityMargin float64
	// MaxCandidates caps the review list (K).
	MaxCandidates int
}

// Validate checks the policy's internal consistency.
func (p Policy) Validate() error {
	if p.ConfirmMaxDistance <= 0 || p.PossibleMaxDistance <= 0 {
		return fmt.Errorf("match policy: thresholds must be positive")
	}
	if p.ConfirmMaxDistance >= p.PossibleMaxDistance {
		return fmt.Errorf("match policy: confirm threshold %.3f must be below possible threshold %.3f",
			p.ConfirmMaxDistance, p.PossibleMaxDistance)
	}
	if p.AmbiguityMargin < 0 {
		return fmt.Errorf("match policy: ambiguity margin must not be negative")
	}
	if p.MaxCandidates <= 0 {
		return fmt.Errorf("match policy: max candidates must be positive")
	}
	return nil
}

// Evaluate applies the confidence policy to a candidate list and returns a
// decision. It is a pure function of its input: no stored state, no
// randomness, identical input always yields an identical decision.
func Evaluate(policy Policy, candidates []Candidate) Decision {
	if len(candidates) == 0 {
		return Decision{Kind: DecisionNoMatch}
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sortCandidates(ranked)

	top := ranked[0]
	if top.Distance <= policy.ConfirmMaxDistance && unambiguous(policy, ranked) {
		return Decision{
			Kind:     DecisionConfirmed,
			CaseID:   top.CaseID,
			Distance: top.Distance,
		}
	}

	if top.Distance <= policy.PossibleMaxDistance {
		review := make([]Candidate, 0, policy.MaxCandidates)
		for _, c := range ranked {
			if c.Distance > policy.PossibleMaxDistance {
				break
			}
			review = append(review, c)
			if len(review) == policy.MaxCandidates {
				break
			}
		}
		for i := range review {
			review[i].Rank = i + 1
		}
		return Decision{Kind: DecisionPossible, Candidates: review}
	}

	return Decision{Kind: DecisionNoMatch}
}

// unambiguous reports whether the top candidate stands clear of the
// runner-up by at least the configured margin.
func unambiguous(policy Policy, ranked []Candidate) bool {
	if len(ranked) < 2 {
		return true
	}
	return ranked[1].Distance-ranked[0].Distance >= policy.AmbiguityMargin
}
