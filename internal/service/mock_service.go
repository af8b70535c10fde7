package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/finalize"
)

type MockService struct {
	mock.Mock
}

var _ Service = (*MockService)(nil)

func (m *MockService) CreatePoll(ctx context.Context, eventID, creatorID uuid.UUID, req *domain.CreatePollRequest) (*domain.Poll, error) {
	args := m.Called(ctx, eventID, creatorID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Poll), args.Error(1)
}

func (m *MockService) GetPoll(ctx context.Context, actorID, pollID uuid.UUID) (*domain.Poll, error) {
	args := m.Called(ctx, actorID, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Poll), args.Error(1)
}

func (m *MockService) ListPolls(ctx context.Context, actorID, eventID uuid.UUID) ([]domain.Poll, error) {
	args := m.Called(ctx, actorID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Poll), args.Error(1)
}

func (m *MockService) TransitionPhase(ctx context.Context, actorID, pollID uuid.UUID, phase string) (*domain.Poll, error) {
	args := m.Called(ctx, actorID, pollID, phase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Poll), args.Error(1)
}

func (m *MockService) SetVotingDeadline(ctx context.Context, actorID, pollID uuid.UUID, deadline *time.Time) (*domain.Poll, error) {
	args := m.Called(ctx, actorID, pollID, deadline)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Poll), args.Error(1)
}

func (m *MockService) DeletePoll(ctx context.Context, actorID, pollID uuid.UUID) error {
	args := m.Called(ctx, actorID, pollID)
	return args.Error(0)
}

func (m *MockService) CreateOption(ctx context.Context, proposerID, pollID uuid.UUID, req *domain.CreateOptionRequest) (*domain.Option, error) {
	args := m.Called(ctx, proposerID, pollID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Option), args.Error(1)
}

func (m *MockService) ListOptions(ctx context.Context, actorID, pollID uuid.UUID) ([]domain.Option, error) {
	args := m.Called(ctx, actorID, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Option), args.Error(1)
}

func (m *MockService) UpdateOptionStatus(ctx context.Context, actorID, optionID uuid.UUID, status string) (*domain.Option, error) {
	args := m.Called(ctx, actorID, optionID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Option), args.Error(1)
}

func (m *MockService) ReorderOptions(ctx context.Context, actorID, pollID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Option, error) {
	args := m.Called(ctx, actorID, pollID, optionIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Option), args.Error(1)
}

func (m *MockService) CastVote(ctx context.Context, voterID, pollID, optionID uuid.UUID, input domain.VoteInput) (*domain.Vote, error) {
	args := m.Called(ctx, voterID, pollID, optionID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Vote), args.Error(1)
}

func (m *MockService) RetractVote(ctx context.Context, voterID, pollID, optionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, voterID, pollID, optionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) ClearVoterBallot(ctx context.Context, voterID, pollID uuid.UUID) (int, error) {
	args := m.Called(ctx, voterID, pollID)
	return args.Int(0), args.Error(1)
}

func (m *MockService) SetApprovals(ctx context.Context, voterID, pollID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Vote, error) {
	args := m.Called(ctx, voterID, pollID, optionIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Vote), args.Error(1)
}

func (m *MockService) SubmitRankedBallot(ctx context.Context, voterID, pollID uuid.UUID, choices []domain.RankedChoice) ([]domain.Vote, error) {
	args := m.Called(ctx, voterID, pollID, choices)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Vote), args.Error(1)
}

func (m *MockService) ClearOptionVotes(ctx context.Context, actorID, optionID uuid.UUID) (int, error) {
	args := m.Called(ctx, actorID, optionID)
	return args.Int(0), args.Error(1)
}

func (m *MockService) Tally(ctx context.Context, actorID, optionID uuid.UUID) (*domain.Tally, error) {
	args := m.Called(ctx, actorID, optionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Tally), args.Error(1)
}

func (m *MockService) TallyAll(ctx context.Context, actorID, pollID uuid.UUID) (*domain.PollResults, error) {
	args := m.Called(ctx, actorID, pollID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PollResults), args.Error(1)
}

func (m *MockService) Finalize(ctx context.Context, actorID, pollID uuid.UUID, req finalize.Request) (*FinalizeResult, error) {
	args := m.Called(ctx, actorID, pollID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FinalizeResult), args.Error(1)
}
