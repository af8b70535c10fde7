package voting

import (
	"context"
	"strings"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

// Binary is yes / maybe / no voting. A maybe is worth half a yes.
type Binary struct{}

func (Binary) System() domain.VotingSystem { return domain.VotingBinary }

func (Binary) Cast(ctx context.Context, store domain.VoteStore, poll *domain.Poll, optionID, voterID uuid.UUID, in domain.VoteInput) (*domain.Vote, error) {
	value := domain.BinaryValue(strings.ToLower(strings.TrimSpace(in.Value)))
	switch value {
	case domain.BinaryYes, domain.BinaryMaybe, domain.BinaryNo:
	default:
		return nil, domain.NewValidationError("value", "must be one of yes, maybe, no")
	}

	vote := newVote(poll, optionID, voterID)
	vote.Value = string(value)
	return store.UpsertVote(ctx, vote)
}

func (Binary) Tally(optionID uuid.UUID, votes []domain.Vote) domain.Tally {
	counts := map[string]int{
		string(domain.BinaryYes):   0,
		string(domain.BinaryMaybe): 0,
		string(domain.BinaryNo):    0,
	}
	for _, v := range votes {
		counts[v.Value]++
	}

	total := len(votes)
	score := float64(counts[string(domain.BinaryYes)]) + 0.5*float64(counts[string(domain.BinaryMaybe)])
	percentages := make(map[string]float64, len(counts))
	for k, c := range counts {
		percentages[k] = percent(float64(c), float64(total))
	}

	return domain.Tally{
		OptionID:   optionID,
		System:     domain.VotingBinary,
		Score:      score,
		Percentage: percent(score, float64(total)),
		TotalVotes: total,
		Breakdown: domain.Breakdown{
			Counts:      counts,
			Percentages: percentages,
		},
	}
}

func (Binary) Less(a, b domain.Tally) bool { return byScoreDesc(a, b) }

// YesCount is the number of yes votes behind a binary tally.
func YesCount(t domain.Tally) int {
	return t.Count(string(domain.BinaryYes))
}
