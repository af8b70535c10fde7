package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/finalize"
	"github.com/behzadon/gather/internal/metrics"
	"github.com/behzadon/gather/internal/voting"
)

// openForVoting locks the poll and checks that voterID may vote in it now.
func (s *service) openForVoting(ctx context.Context, pollID, voterID uuid.UUID) (*domain.Poll, error) {
	p, err := s.repo.LockPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, p, voterID); err != nil {
		return nil, err
	}
	if !p.Phase.AcceptsVotes() {
		return nil, domain.ErrVotingClosed
	}
	if p.DeadlinePassed(s.now()) {
		return nil, domain.ErrDeadlinePassed
	}
	return p, nil
}

// votableOptions returns the poll's active options keyed by id.
func (s *service) votableOptions(ctx context.Context, pollID uuid.UUID) (map[uuid.UUID]domain.Option, error) {
	options, err := s.repo.ListOptions(ctx, pollID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.Option, len(options))
	for _, o := range options {
		if o.Status == domain.OptionActive {
			byID[o.ID] = o
		}
	}
	return byID, nil
}

func (s *service) votableOption(ctx context.Context, poll *domain.Poll, optionID uuid.UUID) error {
	o, err := s.repo.GetOption(ctx, optionID)
	if err != nil {
		return err
	}
	if o.PollID != poll.ID {
		return domain.ErrNotFound
	}
	if o.Status != domain.OptionActive {
		return domain.NewValidationError("option_id", "option is not open for voting")
	}
	return nil
}

// CastVote records one ballot entry. For approval polls a deselect removes
// the vote and returns nil.
func (s *service) CastVote(ctx context.Context, voterID, pollID, optionID uuid.UUID, input domain.VoteInput) (*domain.Vote, error) {
	var (
		poll *domain.Poll
		vote *domain.Vote
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.openForVoting(ctx, pollID, voterID)
		if err != nil {
			return err
		}
		if err := s.votableOption(ctx, p, optionID); err != nil {
			return err
		}
		strategy, err := voting.For(p.VotingSystem)
		if err != nil {
			return err
		}
		v, err := strategy.Cast(ctx, s.repo, p, optionID, voterID, input)
		if err != nil {
			return err
		}
		poll, vote = p, v
		return nil
	})
	if poll != nil {
		metrics.RecordVoteOperation("cast", string(poll.VotingSystem), err)
	}
	if err != nil {
		return nil, err
	}

	activity := domain.VoteActivity{OptionID: &optionID, VoterID: &voterID, Vote: vote}
	eventType := domain.EventVoteCast
	if vote == nil {
		eventType = domain.EventVoteRetracted
	}
	s.afterVote(ctx, poll, voterID, domain.NewPollEvent(eventType, poll, voterID, activity))
	return vote, nil
}

// RetractVote deletes the voter's vote on one option and reports whether
// there was one. The retraction event carries the deleted vote.
func (s *service) RetractVote(ctx context.Context, voterID, pollID, optionID uuid.UUID) (bool, error) {
	var (
		poll  *domain.Poll
		prior *domain.Vote
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		prior = nil
		p, err := s.openForVoting(ctx, pollID, voterID)
		if err != nil {
			return err
		}
		poll = p
		v, err := s.repo.GetVote(ctx, optionID, voterID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get vote: %w", err)
		}
		if _, err := s.repo.DeleteVote(ctx, optionID, voterID); err != nil {
			return fmt.Errorf("delete vote: %w", err)
		}
		prior = v
		return nil
	})
	if poll != nil {
		metrics.RecordVoteOperation("retract", string(poll.VotingSystem), err)
	}
	if err != nil || prior == nil {
		return false, err
	}

	activity := domain.VoteActivity{OptionID: &optionID, VoterID: &voterID, Vote: prior, Removed: 1}
	s.afterVote(ctx, poll, voterID, domain.NewPollEvent(domain.EventVoteRetracted, poll, voterID, activity))
	return true, nil
}

func (s *service) ClearVoterBallot(ctx context.Context, voterID, pollID uuid.UUID) (int, error) {
	var (
		poll    *domain.Poll
		removed int
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.openForVoting(ctx, pollID, voterID)
		if err != nil {
			return err
		}
		n, err := s.repo.DeleteVoterVotes(ctx, pollID, voterID)
		if err != nil {
			return fmt.Errorf("clear ballot: %w", err)
		}
		poll, removed = p, n
		return nil
	})
	if poll != nil {
		metrics.RecordVoteOperation("clear_ballot", string(poll.VotingSystem), err)
	}
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		activity := domain.VoteActivity{VoterID: &voterID, Removed: removed}
		s.afterVote(ctx, poll, voterID, domain.NewPollEvent(domain.EventBallotCleared, poll, voterID, activity))
	}
	return removed, nil
}

func requireSystem(p *domain.Poll, want domain.VotingSystem) error {
	if p.VotingSystem != want {
		return domain.NewValidationError("voting_system", fmt.Sprintf("poll uses %s voting, not %s", p.VotingSystem, want))
	}
	return nil
}

// SetApprovals replaces the voter's approval ballot in one transaction.
func (s *service) SetApprovals(ctx context.Context, voterID, pollID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Vote, error) {
	var (
		poll  *domain.Poll
		votes []domain.Vote
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.openForVoting(ctx, pollID, voterID)
		if err != nil {
			return err
		}
		if err := requireSystem(p, domain.VotingApproval); err != nil {
			return err
		}
		open, err := s.votableOptions(ctx, pollID)
		if err != nil {
			return err
		}
		for i, id := range optionIDs {
			if _, ok := open[id]; !ok {
				return domain.NewValidationError(fmt.Sprintf("option_ids[%d]", i), "not an open option of this poll")
			}
		}
		v, err := voting.Approval{}.SetSelections(ctx, s.repo, p, voterID, optionIDs)
		if err != nil {
			return err
		}
		poll, votes = p, v
		return nil
	})
	if poll != nil {
		metrics.RecordVoteOperation("set_approvals", string(poll.VotingSystem), err)
	}
	if err != nil {
		return nil, err
	}

	activity := domain.VoteActivity{VoterID: &voterID}
	s.afterVote(ctx, poll, voterID, domain.NewPollEvent(domain.EventVoteCast, poll, voterID, activity))
	return votes, nil
}

// SubmitRankedBallot replaces the voter's full ranking. A ballot with a
// repeated rank or option is rejected before anything is written.
func (s *service) SubmitRankedBallot(ctx context.Context, voterID, pollID uuid.UUID, choices []domain.RankedChoice) ([]domain.Vote, error) {
	var (
		poll  *domain.Poll
		votes []domain.Vote
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.openForVoting(ctx, pollID, voterID)
		if err != nil {
			return err
		}
		if err := requireSystem(p, domain.VotingRanked); err != nil {
			return err
		}
		if err := (voting.Ranked{}).ValidateBallot(choices); err != nil {
			return err
		}
		open, err := s.votableOptions(ctx, pollID)
		if err != nil {
			return err
		}
		for i, c := range choices {
			if _, ok := open[c.OptionID]; !ok {
				return domain.NewValidationError(fmt.Sprintf("ballot[%d].option_id", i), "not an open option of this poll")
			}
		}
		v, err := voting.Ranked{}.SubmitBallot(ctx, s.repo, p, voterID, choices)
		if err != nil {
			return err
		}
		poll, votes = p, v
		return nil
	})
	if poll != nil {
		metrics.RecordVoteOperation("submit_ranking", string(poll.VotingSystem), err)
	}
	if err != nil {
		return nil, err
	}

	activity := domain.VoteActivity{VoterID: &voterID}
	s.afterVote(ctx, poll, voterID, domain.NewPollEvent(domain.EventVoteCast, poll, voterID, activity))
	return votes, nil
}

// ClearOptionVotes is a moderation action deleting every vote on an option.
func (s *service) ClearOptionVotes(ctx context.Context, actorID, optionID uuid.UUID) (int, error) {
	var (
		poll    *domain.Poll
		removed int
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		_, p, err := s.optionPoll(ctx, optionID)
		if err != nil {
			return err
		}
		if err := s.requireManager(ctx, p, actorID); err != nil {
			return err
		}
		if p.Phase.Terminal() {
			return domain.ErrPollClosed
		}
		n, err := s.repo.DeleteOptionVotes(ctx, optionID)
		if err != nil {
			return fmt.Errorf("clear option votes: %w", err)
		}
		poll, removed = p, n
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.invalidate(ctx, poll.ID)
	activity := domain.VoteActivity{OptionID: &optionID, Removed: removed}
	s.publish(ctx, domain.NewPollEvent(domain.EventOptionVotesCleared, poll, actorID, activity))
	return removed, nil
}

// afterVote runs the post-commit side effects of a vote mutation. None of
// them can fail the mutation.
func (s *service) afterVote(ctx context.Context, poll *domain.Poll, voterID uuid.UUID, event domain.PollEvent) {
	s.invalidate(ctx, poll.ID)
	s.publish(ctx, event)

	if poll.AutoFinalizeVoters <= 0 {
		return
	}
	voters, err := s.repo.CountVoters(ctx, poll.ID)
	if err != nil {
		s.logger.Error("Failed to count voters for auto-finalization", zap.Error(err), zap.String("poll_id", poll.ID.String()))
		return
	}
	if voters < poll.AutoFinalizeVoters {
		return
	}

	_, err = s.finalize(ctx, uuid.Nil, poll.ID, finalize.Request{Strategy: finalize.HighestVotes}, true)
	if err != nil {
		s.logger.Warn("Auto-finalization skipped",
			zap.Error(err),
			zap.String("poll_id", poll.ID.String()),
			zap.String("user_id", voterID.String()),
			zap.Int("voters", voters),
		)
	}
}
