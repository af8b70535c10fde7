package voting

import (
	"context"
	"fmt"
	"strings"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

// Approval voting: a vote row means the option is selected, no row means it
// is not.
type Approval struct{}

func (Approval) System() domain.VotingSystem { return domain.VotingApproval }

func (Approval) Cast(ctx context.Context, store domain.VoteStore, poll *domain.Poll, optionID, voterID uuid.UUID, in domain.VoteInput) (*domain.Vote, error) {
	selected, err := approvalSelected(in)
	if err != nil {
		return nil, err
	}
	if !selected {
		if _, err := store.DeleteVote(ctx, optionID, voterID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	vote := newVote(poll, optionID, voterID)
	vote.Value = domain.ApprovalSelected
	return store.UpsertVote(ctx, vote)
}

func approvalSelected(in domain.VoteInput) (bool, error) {
	if in.Selected != nil {
		return *in.Selected, nil
	}
	switch strings.ToLower(strings.TrimSpace(in.Value)) {
	case "", domain.ApprovalSelected:
		return true, nil
	case "unselected", "deselected":
		return false, nil
	default:
		return false, domain.NewValidationError("value", "must be selected or unselected")
	}
}

// SetSelections replaces the voter's whole approval ballot. The caller runs
// it inside a transaction so the clear and the inserts land together.
func (Approval) SetSelections(ctx context.Context, store domain.VoteStore, poll *domain.Poll, voterID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Vote, error) {
	seen := make(map[uuid.UUID]bool, len(optionIDs))
	for i, id := range optionIDs {
		if seen[id] {
			return nil, domain.NewValidationError(fmt.Sprintf("option_ids[%d]", i), "option selected twice")
		}
		seen[id] = true
	}

	if _, err := store.DeleteVoterVotes(ctx, poll.ID, voterID); err != nil {
		return nil, err
	}

	votes := make([]domain.Vote, 0, len(optionIDs))
	for _, id := range optionIDs {
		vote := newVote(poll, id, voterID)
		vote.Value = domain.ApprovalSelected
		saved, err := store.UpsertVote(ctx, vote)
		if err != nil {
			return nil, err
		}
		votes = append(votes, *saved)
	}
	return votes, nil
}

func (Approval) Tally(optionID uuid.UUID, votes []domain.Vote) domain.Tally {
	selected := len(votes)
	return domain.Tally{
		OptionID:   optionID,
		System:     domain.VotingApproval,
		Score:      float64(selected),
		Percentage: percent(float64(selected), float64(len(votes))),
		TotalVotes: selected,
		Breakdown: domain.Breakdown{
			Counts: map[string]int{domain.ApprovalSelected: selected},
		},
	}
}

// WithPollVoters recomputes the approval percentage against every voter of
// the poll, since a voter who left an option unselected implicitly rejected
// it. Display only; winner selection keeps using raw counts.
func WithPollVoters(t domain.Tally, totalVoters int) domain.Tally {
	t.Percentage = percent(t.Score, float64(totalVoters))
	t.Breakdown.Percentages = map[string]float64{domain.ApprovalSelected: t.Percentage}
	return t
}

func (Approval) Less(a, b domain.Tally) bool { return byScoreDesc(a, b) }
