package domain

import (
	"strconv"
	"strings"
)

type Phase string

const (
	PhaseBuilding              Phase = "building"
	PhaseVotingWithSuggestions Phase = "voting_with_suggestions"
	PhaseVotingOnly            Phase = "voting_only"
	PhaseClosed                Phase = "closed"

	// phaseVotingLegacy is accepted on input only and never stored.
	phaseVotingLegacy = "voting"
)

// ParsePhase normalizes a phase name, mapping the legacy "voting" alias onto
// PhaseVotingWithSuggestions.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseBuilding, PhaseVotingWithSuggestions, PhaseVotingOnly, PhaseClosed:
		return p, nil
	case phaseVotingLegacy:
		return PhaseVotingWithSuggestions, nil
	default:
		return "", NewValidationError("phase", "unknown phase "+strconv.Quote(s))
	}
}

var phaseEdges = map[Phase][]Phase{
	PhaseBuilding:              {PhaseVotingWithSuggestions, PhaseVotingOnly},
	PhaseVotingWithSuggestions: {PhaseVotingOnly, PhaseClosed},
	PhaseVotingOnly:            {PhaseClosed},
}

func (p Phase) Valid() bool {
	switch p {
	case PhaseBuilding, PhaseVotingWithSuggestions, PhaseVotingOnly, PhaseClosed:
		return true
	}
	return false
}

func (p Phase) AcceptsProposals() bool {
	return p == PhaseBuilding || p == PhaseVotingWithSuggestions
}

func (p Phase) AcceptsVotes() bool {
	return p == PhaseVotingWithSuggestions || p == PhaseVotingOnly
}

func (p Phase) Terminal() bool {
	return p == PhaseClosed
}

// CheckTransition returns a *TransitionError unless to is a legal successor of p.
func (p Phase) CheckTransition(to Phase) error {
	for _, next := range phaseEdges[p] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: p, To: to}
}
