package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/finalize"
	"github.com/behzadon/gather/internal/metrics"
	"github.com/behzadon/gather/internal/voting"
)

// Tally scores one option. A removed option scores as if it had no votes.
func (s *service) Tally(ctx context.Context, actorID, optionID uuid.UUID) (*domain.Tally, error) {
	option, err := s.repo.GetOption(ctx, optionID)
	if err != nil {
		return nil, err
	}
	poll, err := s.GetPoll(ctx, actorID, option.PollID)
	if err != nil {
		return nil, err
	}
	strategy, err := voting.For(poll.VotingSystem)
	if err != nil {
		return nil, err
	}

	var votes []domain.Vote
	if option.Status.Tallied() {
		votes, err = s.repo.ListOptionVotes(ctx, optionID)
		if err != nil {
			return nil, fmt.Errorf("list option votes: %w", err)
		}
	}

	tally := strategy.Tally(optionID, votes)
	if poll.VotingSystem == domain.VotingApproval {
		voters, err := s.repo.CountVoters(ctx, poll.ID)
		if err != nil {
			return nil, fmt.Errorf("count voters: %w", err)
		}
		tally = voting.WithPollVoters(tally, voters)
	}
	return &tally, nil
}

// TallyAll scores every counted option of the poll, best first.
func (s *service) TallyAll(ctx context.Context, actorID, pollID uuid.UUID) (*domain.PollResults, error) {
	poll, err := s.GetPoll(ctx, actorID, pollID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.GetPollResults(ctx, pollID)
		if err != nil {
			s.logger.Warn("Failed to read poll results cache", zap.Error(err), zap.String("poll_id", pollID.String()))
		} else if cached != nil {
			return cached, nil
		}
	}

	results, err := s.computeResults(ctx, poll)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetPollResults(ctx, results); err != nil {
			s.logger.Warn("Failed to cache poll results", zap.Error(err), zap.String("poll_id", pollID.String()))
		}
	}
	return results, nil
}

func (s *service) computeResults(ctx context.Context, poll *domain.Poll) (*domain.PollResults, error) {
	options, err := s.repo.ListOptions(ctx, poll.ID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	votes, err := s.repo.ListVotes(ctx, poll.ID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	voters, err := s.repo.CountVoters(ctx, poll.ID)
	if err != nil {
		return nil, fmt.Errorf("count voters: %w", err)
	}
	return voting.Results(poll, options, votes, voters)
}

func (s *service) Finalize(ctx context.Context, actorID, pollID uuid.UUID, req finalize.Request) (*FinalizeResult, error) {
	return s.finalize(ctx, actorID, pollID, req, false)
}

// finalize closes the poll on its winners and, for a single dated winner,
// moves the owning event in the same transaction. auto skips authorization
// for threshold-triggered finalization.
func (s *service) finalize(ctx context.Context, actorID, pollID uuid.UUID, req finalize.Request, auto bool) (*FinalizeResult, error) {
	if req.Strategy == "" {
		req.Strategy = finalize.HighestVotes
	}

	var (
		result   FinalizeResult
		decision *finalize.Decision
		schedule *finalize.Schedule
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		result = FinalizeResult{}
		schedule = nil

		p, err := s.repo.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if !auto {
			if err := s.requireManager(ctx, p, actorID); err != nil {
				return err
			}
		}
		if p.Phase.Terminal() {
			return domain.ErrPollClosed
		}
		if err := p.Phase.CheckTransition(domain.PhaseClosed); err != nil {
			return err
		}

		options, err := s.repo.ListOptions(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list options: %w", err)
		}
		votes, err := s.repo.ListVotes(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list votes: %w", err)
		}
		decision, err = finalize.Decide(p, options, votes, req)
		if err != nil {
			return err
		}

		now := s.now()
		p.Phase = domain.PhaseClosed
		p.FinalizedOptionIDs = decision.Winners
		p.FinalizedAt = &now
		p.UpdatedAt = now

		if p.PollType.DateBearing() {
			if decision.Winner == nil {
				result.ManualResolutionNeeded = true
			} else {
				event, err := s.events.GetEvent(ctx, p.EventID)
				if err != nil {
					return fmt.Errorf("get event: %w", err)
				}
				schedule, err = finalize.ProjectSchedule(event, decision.Winner)
				if err != nil {
					return err
				}
				if schedule != nil {
					if err := s.events.UpdateEventSchedule(ctx, event.ID, schedule.StartsAt, schedule.EndsAt); err != nil {
						return fmt.Errorf("update event schedule: %w", err)
					}
					date := schedule.Date
					p.FinalizedDate = &date
					event.StartsAt = &schedule.StartsAt
					event.EndsAt = schedule.EndsAt
					result.Event = event
				}
			}
		}

		if err := s.repo.UpdatePoll(ctx, p); err != nil {
			return fmt.Errorf("update poll: %w", err)
		}
		result.Poll = p
		return nil
	})
	if err != nil {
		code := domain.StateCode(err)
		if code == "" {
			code = "error"
		}
		metrics.RecordFinalization(string(req.Strategy), code)
		return nil, err
	}
	metrics.RecordFinalization(string(decision.Strategy), "success")

	poll := result.Poll
	s.logger.Info("poll finalized",
		zap.String("poll_id", poll.ID.String()),
		zap.String("event_id", poll.EventID.String()),
		zap.String("strategy", string(decision.Strategy)),
		zap.Int("winners", len(decision.Winners)),
		zap.Bool("auto", auto),
	)

	payload := domain.Finalization{
		Strategy:         string(decision.Strategy),
		OptionIDs:        decision.Winners,
		FinalizedDate:    poll.FinalizedDate,
		AutoFinalized:    auto,
		ManualResolution: result.ManualResolutionNeeded,
	}
	if schedule != nil {
		payload.EventStartsAt = &schedule.StartsAt
		payload.EventEndsAt = schedule.EndsAt
	}

	s.invalidate(ctx, poll.ID)
	evts := []domain.PollEvent{domain.NewPollEvent(domain.EventPollFinalized, poll, actorID, payload)}
	if result.ManualResolutionNeeded {
		evts = append(evts, domain.NewPollEvent(domain.EventPollManualResolution, poll, actorID, payload))
	}
	s.publish(ctx, evts...)

	return &result, nil
}
