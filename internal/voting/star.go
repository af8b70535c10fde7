package voting

import (
	"context"
	"math"
	"strconv"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

const (
	MinStars = 1.0
	MaxStars = 5.0
)

// Star rating from 1 to 5, decimals allowed.
type Star struct{}

func (Star) System() domain.VotingSystem { return domain.VotingStar }

func (Star) Cast(ctx context.Context, store domain.VoteStore, poll *domain.Poll, optionID, voterID uuid.UUID, in domain.VoteInput) (*domain.Vote, error) {
	if in.Numeric == nil {
		return nil, domain.NewValidationError("numeric", "rating is required")
	}
	n := *in.Numeric
	if math.IsNaN(n) || n < MinStars || n > MaxStars {
		return nil, domain.NewValidationError("numeric", "must be between 1 and 5")
	}

	vote := newVote(poll, optionID, voterID)
	vote.Numeric = &n
	return store.UpsertVote(ctx, vote)
}

func (Star) Tally(optionID uuid.UUID, votes []domain.Vote) domain.Tally {
	counts := make(map[string]int, 5)
	for r := 1; r <= 5; r++ {
		counts[strconv.Itoa(r)] = 0
	}

	total, sum := 0, 0.0
	for _, v := range votes {
		if v.Numeric == nil {
			continue
		}
		total++
		sum += *v.Numeric
		bucket := int(math.Round(*v.Numeric))
		counts[strconv.Itoa(bucket)]++
	}

	percentages := make(map[string]float64, len(counts))
	for k, c := range counts {
		percentages[k] = percent(float64(c), float64(total))
	}

	t := domain.Tally{
		OptionID:   optionID,
		System:     domain.VotingStar,
		TotalVotes: total,
		Breakdown: domain.Breakdown{
			Counts:      counts,
			Percentages: percentages,
		},
	}
	if total > 0 {
		avg := sum / float64(total)
		t.Breakdown.Average = domain.Round1(avg)
		t.Score = percent(avg, MaxStars)
		t.Percentage = t.Score
	}
	return t
}

func (Star) Less(a, b domain.Tally) bool { return byScoreDesc(a, b) }
