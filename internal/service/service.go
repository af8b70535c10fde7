package service

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/finalize"
	"github.com/behzadon/gather/internal/metrics"
	"github.com/behzadon/gather/internal/storage/events"
)

type Service interface {
	CreatePoll(ctx context.Context, eventID, creatorID uuid.UUID, req *domain.CreatePollRequest) (*domain.Poll, error)
	GetPoll(ctx context.Context, actorID, pollID uuid.UUID) (*domain.Poll, error)
	ListPolls(ctx context.Context, actorID, eventID uuid.UUID) ([]domain.Poll, error)
	TransitionPhase(ctx context.Context, actorID, pollID uuid.UUID, phase string) (*domain.Poll, error)
	SetVotingDeadline(ctx context.Context, actorID, pollID uuid.UUID, deadline *time.Time) (*domain.Poll, error)
	DeletePoll(ctx context.Context, actorID, pollID uuid.UUID) error

	CreateOption(ctx context.Context, proposerID, pollID uuid.UUID, req *domain.CreateOptionRequest) (*domain.Option, error)
	ListOptions(ctx context.Context, actorID, pollID uuid.UUID) ([]domain.Option, error)
	UpdateOptionStatus(ctx context.Context, actorID, optionID uuid.UUID, status string) (*domain.Option, error)
	ReorderOptions(ctx context.Context, actorID, pollID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Option, error)

	CastVote(ctx context.Context, voterID, pollID, optionID uuid.UUID, input domain.VoteInput) (*domain.Vote, error)
	RetractVote(ctx context.Context, voterID, pollID, optionID uuid.UUID) (bool, error)
	ClearVoterBallot(ctx context.Context, voterID, pollID uuid.UUID) (int, error)
	SetApprovals(ctx context.Context, voterID, pollID uuid.UUID, optionIDs []uuid.UUID) ([]domain.Vote, error)
	SubmitRankedBallot(ctx context.Context, voterID, pollID uuid.UUID, choices []domain.RankedChoice) ([]domain.Vote, error)
	ClearOptionVotes(ctx context.Context, actorID, optionID uuid.UUID) (int, error)

	Tally(ctx context.Context, actorID, optionID uuid.UUID) (*domain.Tally, error)
	TallyAll(ctx context.Context, actorID, pollID uuid.UUID) (*domain.PollResults, error)

	Finalize(ctx context.Context, actorID, pollID uuid.UUID, req finalize.Request) (*FinalizeResult, error)
}

// TallyCache stores computed poll results between vote mutations.
type TallyCache interface {
	GetPollResults(ctx context.Context, pollID uuid.UUID) (*domain.PollResults, error)
	SetPollResults(ctx context.Context, results *domain.PollResults) error
	InvalidatePollResults(ctx context.Context, pollID uuid.UUID) error
}

type FinalizeResult struct {
	Poll *domain.Poll `json:"poll"`
	// Event is the owning event after its schedule moved; nil when untouched.
	Event                  *domain.Event `json:"event,omitempty"`
	ManualResolutionNeeded bool          `json:"manualResolutionNeeded"`
}

type service struct {
	repo      domain.Repository
	events    domain.EventDirectory
	members   domain.Membership
	publisher events.Publisher
	cache     TallyCache
	logger    *zap.Logger

	now              func() time.Time
	conflictAttempts uint
}

type Option func(*service)

func WithTallyCache(cache TallyCache) Option {
	return func(s *service) { s.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithConflictAttempts bounds how often a transaction that lost a uniqueness
// race is replayed.
func WithConflictAttempts(n uint) Option {
	return func(s *service) {
		if n > 0 {
			s.conflictAttempts = n
		}
	}
}

func NewService(
	repo domain.Repository,
	eventDir domain.EventDirectory,
	members domain.Membership,
	publisher events.Publisher,
	logger *zap.Logger,
	opts ...Option,
) Service {
	s := &service{
		repo:             repo,
		events:           eventDir,
		members:          members,
		publisher:        publisher,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		conflictAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	return s
}

// transact runs fn in a transaction, replaying it when it loses a race on a
// uniqueness constraint.
func (s *service) transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(func() error {
		return s.repo.WithTransaction(ctx, fn)
	},
		retry.Context(ctx),
		retry.Attempts(s.conflictAttempts),
		retry.Delay(5*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrConflict)
		}),
	)
}

func (s *service) role(ctx context.Context, eventID, userID uuid.UUID) (domain.Role, error) {
	role, err := s.members.MemberRole(ctx, eventID, userID)
	if err != nil {
		return domain.RoleNone, err
	}
	if !role.Member() {
		return domain.RoleNone, domain.ErrForbidden
	}
	return role, nil
}

// requireMember allows any participant of the poll's event.
func (s *service) requireMember(ctx context.Context, poll *domain.Poll, userID uuid.UUID) error {
	_, err := s.role(ctx, poll.EventID, userID)
	return err
}

// requireManager allows organizers, co-hosts and the poll's creator.
func (s *service) requireManager(ctx context.Context, poll *domain.Poll, userID uuid.UUID) error {
	role, err := s.role(ctx, poll.EventID, userID)
	if err != nil {
		return err
	}
	if role.Elevated() || poll.CreatedBy == userID {
		return nil
	}
	return domain.ErrForbidden
}

func (s *service) publish(ctx context.Context, evts ...domain.PollEvent) {
	for _, e := range evts {
		if err := s.publisher.Publish(ctx, e); err != nil {
			metrics.RecordPublishFailure(string(e.Type))
			s.logger.Error("Failed to publish poll event",
				zap.Error(err),
				zap.String("type", string(e.Type)),
				zap.String("poll_id", e.PollID.String()),
				zap.String("event_id", e.EventID.String()),
			)
		}
	}
}

func (s *service) invalidate(ctx context.Context, pollID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePollResults(ctx, pollID); err != nil {
		s.logger.Warn("Failed to invalidate poll results cache",
			zap.Error(err),
			zap.String("poll_id", pollID.String()),
		)
	}
}
