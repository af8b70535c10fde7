package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VoteStore is the vote persistence surface the voting strategies need. All
// calls made with a transaction context join that transaction.
type VoteStore interface {
	// GetVote returns ErrNotFound when the voter has no vote on the option.
	GetVote(ctx context.Context, optionID, voterID uuid.UUID) (*Vote, error)
	UpsertVote(ctx context.Context, vote *Vote) (*Vote, error)
	DeleteVote(ctx context.Context, optionID, voterID uuid.UUID) (bool, error)
	DeleteVoterVotes(ctx context.Context, pollID, voterID uuid.UUID) (int, error)
	// FindVoteByRank returns nil without error when no vote holds the rank.
	FindVoteByRank(ctx context.Context, pollID, voterID uuid.UUID, rank int) (*Vote, error)
}

type Repository interface {
	VoteStore

	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	CreatePoll(ctx context.Context, poll *Poll) error
	GetPoll(ctx context.Context, id uuid.UUID) (*Poll, error)
	// LockPoll reads the poll and holds it against concurrent writers until
	// the surrounding transaction ends.
	LockPoll(ctx context.Context, id uuid.UUID) (*Poll, error)
	ListPolls(ctx context.Context, eventID uuid.UUID) ([]Poll, error)
	UpdatePoll(ctx context.Context, poll *Poll) error
	DeletePoll(ctx context.Context, id uuid.UUID) error

	CreateOption(ctx context.Context, option *Option) error
	GetOption(ctx context.Context, id uuid.UUID) (*Option, error)
	ListOptions(ctx context.Context, pollID uuid.UUID) ([]Option, error)
	UpdateOption(ctx context.Context, option *Option) error
	NextOptionOrder(ctx context.Context, pollID uuid.UUID) (int, error)

	ListVotes(ctx context.Context, pollID uuid.UUID) ([]Vote, error)
	ListOptionVotes(ctx context.Context, optionID uuid.UUID) ([]Vote, error)
	DeleteOptionVotes(ctx context.Context, optionID uuid.UUID) (int, error)
	CountVoters(ctx context.Context, pollID uuid.UUID) (int, error)
}

// EventDirectory is the Event collaborator. UpdateEventSchedule joins the
// transaction carried by ctx.
type EventDirectory interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	UpdateEventSchedule(ctx context.Context, id uuid.UUID, startsAt time.Time, endsAt *time.Time) error
}

// Membership is the Accounts collaborator capability check.
type Membership interface {
	MemberRole(ctx context.Context, eventID, userID uuid.UUID) (Role, error)
}
