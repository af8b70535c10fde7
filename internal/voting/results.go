package voting

import (
	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

// Results tallies every eligible option and orders them best first.
func Results(poll *domain.Poll, options []domain.Option, votes []domain.Vote, totalVoters int) (*domain.PollResults, error) {
	strategy, err := For(poll.VotingSystem)
	if err != nil {
		return nil, err
	}

	byOption := make(map[uuid.UUID][]domain.Vote)
	for _, v := range votes {
		byOption[v.OptionID] = append(byOption[v.OptionID], v)
	}

	results := make([]domain.OptionResult, 0, len(options))
	for _, o := range options {
		if !o.Status.Tallied() {
			continue
		}
		t := strategy.Tally(o.ID, byOption[o.ID])
		if poll.VotingSystem == domain.VotingApproval {
			t = WithPollVoters(t, totalVoters)
		}
		results = append(results, domain.OptionResult{Option: o, Tally: t})
	}
	SortResults(strategy, results)

	return &domain.PollResults{
		PollID:       poll.ID,
		VotingSystem: poll.VotingSystem,
		TotalVoters:  totalVoters,
		Results:      results,
	}, nil
}
