package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/metrics"
)

func validateText(title, description string) error {
	var errs domain.ValidationErrors
	if strings.TrimSpace(title) == "" {
		errs = append(errs, domain.NewValidationError("title", "title is required"))
	} else if len(title) > domain.MaxTitleLength {
		errs = append(errs, domain.NewValidationError("title", fmt.Sprintf("must be at most %d characters", domain.MaxTitleLength)))
	}
	if len(description) > domain.MaxDescriptionLength {
		errs = append(errs, domain.NewValidationError("description", fmt.Sprintf("must be at most %d characters", domain.MaxDescriptionLength)))
	}
	return errs.Err()
}

func (s *service) CreatePoll(ctx context.Context, eventID, creatorID uuid.UUID, req *domain.CreatePollRequest) (*domain.Poll, error) {
	if req == nil {
		return nil, domain.NewValidationError("body", "request is required")
	}
	if err := validateText(req.Title, req.Description); err != nil {
		return nil, err
	}
	system, err := domain.ParseVotingSystem(req.VotingSystem)
	if err != nil {
		return nil, err
	}
	pollType := domain.PollType(strings.ToLower(strings.TrimSpace(req.PollType)))
	if pollType == "" {
		pollType = domain.PollTypeGeneric
	}
	now := s.now()
	if req.VotingDeadline != nil && !req.VotingDeadline.After(now) {
		return nil, domain.NewValidationError("voting_deadline", "must be in the future")
	}
	if req.AutoFinalizeVoters < 0 {
		return nil, domain.NewValidationError("auto_finalize_voters", "must not be negative")
	}

	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	role, err := s.role(ctx, eventID, creatorID)
	if err != nil {
		return nil, err
	}
	if !role.Elevated() {
		return nil, domain.ErrForbidden
	}

	poll := &domain.Poll{
		ID:                 uuid.New(),
		EventID:            eventID,
		CreatedBy:          creatorID,
		Title:              strings.TrimSpace(req.Title),
		Description:        req.Description,
		PollType:           pollType,
		VotingSystem:       system,
		Phase:              domain.PhaseBuilding,
		VotingDeadline:     req.VotingDeadline,
		AutoFinalizeVoters: req.AutoFinalizeVoters,
		FinalizedOptionIDs: []uuid.UUID{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.CreatePoll(ctx, poll); err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}

	s.logger.Info("poll created",
		zap.String("poll_id", poll.ID.String()),
		zap.String("event_id", eventID.String()),
		zap.String("voting_system", string(system)),
	)
	s.publish(ctx, domain.NewPollEvent(domain.EventPollCreated, poll, creatorID, poll))

	return poll, nil
}

func (s *service) GetPoll(ctx context.Context, actorID, pollID uuid.UUID) (*domain.Poll, error) {
	poll, err := s.repo.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, poll, actorID); err != nil {
		return nil, err
	}
	return poll, nil
}

func (s *service) ListPolls(ctx context.Context, actorID, eventID uuid.UUID) ([]domain.Poll, error) {
	if _, err := s.role(ctx, eventID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListPolls(ctx, eventID)
}

func transitionEvent(to domain.Phase, from domain.Phase) domain.EventType {
	switch {
	case to == domain.PhaseClosed:
		return domain.EventPollVotingEnded
	case from == domain.PhaseVotingWithSuggestions && to == domain.PhaseVotingOnly:
		return domain.EventPollSuggestionsDisabled
	default:
		return domain.EventPollVotingStarted
	}
}

// TransitionPhase moves the poll along a legal edge. Closing this way ends
// voting without picking a winner.
func (s *service) TransitionPhase(ctx context.Context, actorID, pollID uuid.UUID, phase string) (*domain.Poll, error) {
	to, err := domain.ParsePhase(phase)
	if err != nil {
		return nil, err
	}

	var (
		poll *domain.Poll
		from domain.Phase
	)
	err = s.transact(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if err := s.requireManager(ctx, p, actorID); err != nil {
			return err
		}
		if err := p.Phase.CheckTransition(to); err != nil {
			return err
		}
		from = p.Phase
		p.Phase = to
		p.UpdatedAt = s.now()
		if err := s.repo.UpdatePoll(ctx, p); err != nil {
			return fmt.Errorf("update poll: %w", err)
		}
		poll = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordPhaseTransition(string(from), string(to))
	s.logger.Info("poll phase changed",
		zap.String("poll_id", pollID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if to == domain.PhaseClosed {
		s.invalidate(ctx, pollID)
	}
	s.publish(ctx, domain.NewPollEvent(transitionEvent(to, from), poll, actorID, domain.PhaseChange{From: from, To: to}))

	return poll, nil
}

// SetVotingDeadline sets or, with a nil deadline, clears the voting deadline.
func (s *service) SetVotingDeadline(ctx context.Context, actorID, pollID uuid.UUID, deadline *time.Time) (*domain.Poll, error) {
	if deadline != nil && !deadline.After(s.now()) {
		return nil, domain.NewValidationError("voting_deadline", "must be in the future")
	}

	var poll *domain.Poll
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if err := s.requireManager(ctx, p, actorID); err != nil {
			return err
		}
		if p.Phase.Terminal() {
			return domain.ErrPollClosed
		}
		p.VotingDeadline = deadline
		p.UpdatedAt = s.now()
		if err := s.repo.UpdatePoll(ctx, p); err != nil {
			return fmt.Errorf("update poll: %w", err)
		}
		poll = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.NewPollEvent(domain.EventPollDeadlineChanged, poll, actorID, map[string]*time.Time{"votingDeadline": deadline}))
	return poll, nil
}

func (s *service) DeletePoll(ctx context.Context, actorID, pollID uuid.UUID) error {
	var poll *domain.Poll
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if err := s.requireManager(ctx, p, actorID); err != nil {
			return err
		}
		poll = p
		return s.repo.DeletePoll(ctx, pollID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("poll deleted", zap.String("poll_id", pollID.String()), zap.String("actor_id", actorID.String()))
	s.invalidate(ctx, pollID)
	s.publish(ctx, domain.NewPollEvent(domain.EventPollDeleted, poll, actorID, nil))
	return nil
}

func (s *service) CreateOption(ctx context.Context, proposerID, pollID uuid.UUID, req *domain.CreateOptionRequest) (*domain.Option, error) {
	if req == nil {
		return nil, domain.NewValidationError("body", "request is required")
	}
	if err := validateText(req.Title, req.Description); err != nil {
		return nil, err
	}

	var (
		poll   *domain.Poll
		option *domain.Option
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if err := s.requireMember(ctx, p, proposerID); err != nil {
			return err
		}
		if !p.Phase.AcceptsProposals() {
			return domain.ErrProposalsClosed
		}

		var meta domain.OptionMetadata
		if req.Metadata != nil {
			meta = *req.Metadata
		}
		if err := meta.Normalize(p.PollType); err != nil {
			return err
		}

		order, err := s.repo.NextOptionOrder(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("next option order: %w", err)
		}

		now := s.now()
		proposer := proposerID
		o := &domain.Option{
			ID:           uuid.New(),
			PollID:       p.ID,
			SuggestedBy:  &proposer,
			Title:        strings.TrimSpace(req.Title),
			Description:  req.Description,
			Status:       domain.OptionActive,
			OrderIndex:   order,
			Metadata:     meta,
			ExternalData: req.ExternalData,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.CreateOption(ctx, o); err != nil {
			return fmt.Errorf("failed to create option: %w", err)
		}
		poll, option = p, o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pollID)
	s.publish(ctx, domain.NewPollEvent(domain.EventOptionCreated, poll, proposerID, option))
	return option, nil
}

func (s *service) ListOptions(ctx context.Context, actorID, pollID uuid.UUID) ([]domain.Option, error) {
	if _, err := s.GetPoll(ctx, actorID, pollID); err != nil {
		return nil, err
	}
	return s.repo.ListOptions(ctx, pollID)
}

// optionPoll loads an option and locks its poll.
func (s *service) optionPoll(ctx context.Context, optionID uuid.UUID) (*domain.Option, *domain.Poll, error) {
	o, err := s.repo.GetOption(ctx, optionID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.repo.LockPoll(ctx, o.PollID)
	if err != nil {
		return nil, nil, err
	}
	return o, p, nil
}

// UpdateOptionStatus hides, restores or removes an option. Votes on a
// removed option stay stored but no longer count.
func (s *service) UpdateOptionStatus(ctx context.Context, actorID, optionID uuid.UUID, status string) (*domain.Option, error) {
	st, err := domain.ParseOptionStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		poll   *domain.Poll
		option *domain.Option
	)
	err = s.transact(ctx, func(ctx context.Context) error {
		o, p, err := s.optionPoll(ctx, optionID)
		if err != nil {
			return err
		}
		if err := s.requireManager(ctx, p, actorID); err != nil {
			return err
		}
		if p.Phase.Terminal() {
			return domain.ErrPollClosed
		}
		o.Status = st
		o.UpdatedAt = s.now()
		if err := s.repo.UpdateOption(ctx, o); err != nil {
			return fmt.Errorf("update option: %w", err)
		}
		poll, option = p, o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, poll.ID)
	s.publish(ctx, domain.NewPollEvent(domain.EventOptionUpdated, poll, actorID, option))
	return option, nil
}

// ReorderOptions rewrites the display order. optionIDs must name every
// option of the poll exactly once.
func (s *service) ReorderOptions(ctx context.Context, actorID, pollID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Option, error) {
	var (
		poll    *domain.Poll
		ordered []domain.Option
	)
	err := s.transact(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockPoll(ctx, pollID)
		if err != nil {
			return err
		}
		if err := s.requireManager(ctx, p, actorID); err != nil {
			return err
		}
		if p.Phase.Terminal() {
			return domain.ErrPollClosed
		}

		options, err := s.repo.ListOptions(ctx, pollID)
		if err != nil {
			return err
		}
		if len(optionIDs) != len(options) {
			return domain.NewValidationError("option_ids", fmt.Sprintf("expected %d options, got %d", len(options), len(optionIDs)))
		}
		byID := make(map[uuid.UUID]domain.Option, len(options))
		for _, o := range options {
			byID[o.ID] = o
		}

		now := s.now()
		ordered = make([]domain.Option, 0, len(optionIDs))
		for i, id := range optionIDs {
			o, ok := byID[id]
			if !ok {
				return domain.NewValidationError(fmt.Sprintf("option_ids[%d]", i), "unknown or repeated option")
			}
			delete(byID, id)
			o.OrderIndex = i
			o.UpdatedAt = now
			if err := s.repo.UpdateOption(ctx, &o); err != nil {
				return fmt.Errorf("update option order: %w", err)
			}
			ordered = append(ordered, o)
		}
		poll = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pollID)
	s.publish(ctx, domain.NewPollEvent(domain.EventOptionsReordered, poll, actorID, optionIDs))
	return ordered, nil
}
