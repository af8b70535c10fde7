// Package voting holds the four voting systems. Each one decides how a cast
// replaces or merges with the voter's earlier votes and how the votes on a
// single option turn into a score.
package voting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

type Strategy interface {
	System() domain.VotingSystem
	// Cast records one ballot entry. A nil vote with a nil error means the
	// entry removed the voter's vote (approval deselect).
	Cast(ctx context.Context, store domain.VoteStore, poll *domain.Poll, optionID, voterID uuid.UUID, in domain.VoteInput) (*domain.Vote, error)
	Tally(optionID uuid.UUID, votes []domain.Vote) domain.Tally
	// Less reports whether a ranks ahead of b.
	Less(a, b domain.Tally) bool
}

var strategies = map[domain.VotingSystem]Strategy{
	domain.VotingBinary:   Binary{},
	domain.VotingApproval: Approval{},
	domain.VotingRanked:   Ranked{},
	domain.VotingStar:     Star{},
}

// For returns the strategy of a voting system.
func For(system domain.VotingSystem) (Strategy, error) {
	s, ok := strategies[system]
	if !ok {
		return nil, fmt.Errorf("voting system %q: %w", system, domain.ErrValidation)
	}
	return s, nil
}

func newVote(poll *domain.Poll, optionID, voterID uuid.UUID) *domain.Vote {
	now := time.Now().UTC()
	return &domain.Vote{
		ID:        uuid.New(),
		PollID:    poll.ID,
		OptionID:  optionID,
		VoterID:   voterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SortResults orders results best first, breaking ties by manual order.
func SortResults(s Strategy, results []domain.OptionResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Tally, results[j].Tally
		if s.Less(a, b) {
			return true
		}
		if s.Less(b, a) {
			return false
		}
		return results[i].Option.OrderIndex < results[j].Option.OrderIndex
	})
}

func byScoreDesc(a, b domain.Tally) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.TotalVotes > b.TotalVotes
}

func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return domain.Round1(part / whole * 100)
}
