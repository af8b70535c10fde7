package voting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

// Ranked voting: each voter orders options 1..n, lower is better, and no
// voter holds two options at the same rank.
type Ranked struct{}

func (Ranked) System() domain.VotingSystem { return domain.VotingRanked }

func (Ranked) Cast(ctx context.Context, store domain.VoteStore, poll *domain.Poll, optionID, voterID uuid.UUID, in domain.VoteInput) (*domain.Vote, error) {
	if in.Rank == nil {
		return nil, domain.NewValidationError("rank", "rank is required")
	}
	rank := *in.Rank
	if rank < 1 {
		return nil, domain.NewValidationError("rank", "must be a positive integer")
	}

	colliding, err := store.FindVoteByRank(ctx, poll.ID, voterID, rank)
	if err != nil {
		return nil, err
	}
	if colliding != nil && colliding.OptionID != optionID {
		if _, err := store.DeleteVote(ctx, colliding.OptionID, voterID); err != nil {
			return nil, err
		}
	}

	vote := newVote(poll, optionID, voterID)
	vote.Rank = &rank
	return store.UpsertVote(ctx, vote)
}

// ValidateBallot checks a full ballot without touching storage.
func (Ranked) ValidateBallot(choices []domain.RankedChoice) error {
	var errs domain.ValidationErrors
	ranks := make(map[int]int, len(choices))
	options := make(map[uuid.UUID]int, len(choices))
	for i, c := range choices {
		field := fmt.Sprintf("ballot[%d]", i)
		if c.Rank < 1 {
			errs = append(errs, domain.NewValidationError(field+".rank", "must be a positive integer"))
			continue
		}
		if j, dup := ranks[c.Rank]; dup {
			errs = append(errs, domain.NewValidationError(field+".rank",
				fmt.Sprintf("rank %d already used by ballot[%d]", c.Rank, j)))
		} else {
			ranks[c.Rank] = i
		}
		if j, dup := options[c.OptionID]; dup {
			errs = append(errs, domain.NewValidationError(field+".option_id",
				fmt.Sprintf("option already ranked by ballot[%d]", j)))
		} else {
			options[c.OptionID] = i
		}
	}
	return errs.Err()
}

// SubmitBallot replaces the voter's whole ranking. The ballot is validated
// before anything is written; the caller supplies the transaction.
func (r Ranked) SubmitBallot(ctx context.Context, store domain.VoteStore, poll *domain.Poll, voterID uuid.UUID, choices []domain.RankedChoice) ([]domain.Vote, error) {
	if err := r.ValidateBallot(choices); err != nil {
		return nil, err
	}

	if _, err := store.DeleteVoterVotes(ctx, poll.ID, voterID); err != nil {
		return nil, err
	}

	votes := make([]domain.Vote, 0, len(choices))
	for _, c := range choices {
		rank := c.Rank
		vote := newVote(poll, c.OptionID, voterID)
		vote.Rank = &rank
		saved, err := store.UpsertVote(ctx, vote)
		if err != nil {
			return nil, err
		}
		votes = append(votes, *saved)
	}
	return votes, nil
}

func (Ranked) Tally(optionID uuid.UUID, votes []domain.Vote) domain.Tally {
	t := domain.Tally{
		OptionID:   optionID,
		System:     domain.VotingRanked,
		TotalVotes: 0,
		Breakdown: domain.Breakdown{
			Counts:      map[string]int{},
			AverageRank: domain.NoVotesAverageRank,
		},
	}

	sum := 0
	for _, v := range votes {
		if v.Rank == nil {
			continue
		}
		sum += *v.Rank
		t.TotalVotes++
		t.Breakdown.Counts[strconv.Itoa(*v.Rank)]++
	}
	if t.TotalVotes == 0 {
		return t
	}

	avg := float64(sum) / float64(t.TotalVotes)
	t.Breakdown.AverageRank = avg
	t.Score = domain.Round1(100 / avg)
	return t
}

// Less puts the lower average rank first.
func (Ranked) Less(a, b domain.Tally) bool {
	if a.Breakdown.AverageRank != b.Breakdown.AverageRank {
		return a.Breakdown.AverageRank < b.Breakdown.AverageRank
	}
	return a.TotalVotes > b.TotalVotes
}
