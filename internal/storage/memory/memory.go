// Package memory is a process-local implementation of the poll repository
// and its collaborators. It backs the "memory" storage driver and the tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

type voteKey struct {
	optionID uuid.UUID
	voterID  uuid.UUID
}

type memberKey struct {
	eventID uuid.UUID
	userID  uuid.UUID
}

type state struct {
	polls   map[uuid.UUID]domain.Poll
	options map[uuid.UUID]domain.Option
	votes   map[voteKey]domain.Vote
	events  map[uuid.UUID]domain.Event
}

// Store serializes every transaction behind one lock. Calls carrying a
// transaction context run under the lock already held by WithTransaction.
type Store struct {
	mu      sync.Mutex
	data    state
	members map[memberKey]domain.Role
}

var (
	_ domain.Repository     = (*Store)(nil)
	_ domain.EventDirectory = (*Store)(nil)
	_ domain.Membership     = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		data: state{
			polls:   make(map[uuid.UUID]domain.Poll),
			options: make(map[uuid.UUID]domain.Option),
			votes:   make(map[voteKey]domain.Vote),
			events:  make(map[uuid.UUID]domain.Event),
		},
		members: make(map[memberKey]domain.Role),
	}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	tx, _ := ctx.Value(txKey{}).(*Store)
	return tx == s
}

// lock acquires the store unless ctx belongs to a running transaction.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTransaction runs fn with exclusive access and restores the previous
// state when fn fails. Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = saved
		return err
	}
	return nil
}

func (st state) clone() state {
	out := state{
		polls:   make(map[uuid.UUID]domain.Poll, len(st.polls)),
		options: make(map[uuid.UUID]domain.Option, len(st.options)),
		votes:   make(map[voteKey]domain.Vote, len(st.votes)),
		events:  make(map[uuid.UUID]domain.Event, len(st.events)),
	}
	for k, v := range st.polls {
		out.polls[k] = copyPoll(v)
	}
	for k, v := range st.options {
		out.options[k] = copyOption(v)
	}
	for k, v := range st.votes {
		out.votes[k] = copyVote(v)
	}
	for k, v := range st.events {
		out.events[k] = copyEvent(v)
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyPoll(p domain.Poll) domain.Poll {
	p.VotingDeadline = copyTime(p.VotingDeadline)
	p.FinalizedDate = copyTime(p.FinalizedDate)
	p.FinalizedAt = copyTime(p.FinalizedAt)
	if p.FinalizedOptionIDs != nil {
		p.FinalizedOptionIDs = append([]uuid.UUID(nil), p.FinalizedOptionIDs...)
	}
	return p
}

func copyOption(o domain.Option) domain.Option {
	if o.SuggestedBy != nil {
		id := *o.SuggestedBy
		o.SuggestedBy = &id
	}
	if dt := o.Metadata.DateTime; dt != nil {
		c := *dt
		c.TimeSlots = append([]domain.TimeRange(nil), dt.TimeSlots...)
		o.Metadata.DateTime = &c
	}
	if v := o.Metadata.Venue; v != nil {
		c := *v
		o.Metadata.Venue = &c
	}
	if o.ExternalData != nil {
		ext := make(domain.ExternalData, len(o.ExternalData))
		for k, v := range o.ExternalData {
			ext[k] = v
		}
		o.ExternalData = ext
	}
	return o
}

func copyVote(v domain.Vote) domain.Vote {
	if v.Rank != nil {
		r := *v.Rank
		v.Rank = &r
	}
	if v.Numeric != nil {
		n := *v.Numeric
		v.Numeric = &n
	}
	return v
}

func copyEvent(e domain.Event) domain.Event {
	e.StartsAt = copyTime(e.StartsAt)
	e.EndsAt = copyTime(e.EndsAt)
	return e
}

func (s *Store) CreatePoll(ctx context.Context, poll *domain.Poll) error {
	defer s.lock(ctx)()
	if _, exists := s.data.polls[poll.ID]; exists {
		return &domain.RepositoryError{Op: "create poll", Err: domain.ErrConflict}
	}
	s.data.polls[poll.ID] = copyPoll(*poll)
	return nil
}

func (s *Store) GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	defer s.lock(ctx)()
	p, ok := s.data.polls[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := copyPoll(p)
	return &c, nil
}

// LockPoll is GetPoll here: the transaction already excludes other writers.
func (s *Store) LockPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	return s.GetPoll(ctx, id)
}

func (s *Store) ListPolls(ctx context.Context, eventID uuid.UUID) ([]domain.Poll, error) {
	defer s.lock(ctx)()
	polls := make([]domain.Poll, 0)
	for _, p := range s.data.polls {
		if p.EventID == eventID {
			polls = append(polls, copyPoll(p))
		}
	}
	sort.Slice(polls, func(i, j int) bool {
		if !polls[i].CreatedAt.Equal(polls[j].CreatedAt) {
			return polls[i].CreatedAt.Before(polls[j].CreatedAt)
		}
		return polls[i].ID.String() < polls[j].ID.String()
	})
	return polls, nil
}

func (s *Store) UpdatePoll(ctx context.Context, poll *domain.Poll) error {
	defer s.lock(ctx)()
	if _, ok := s.data.polls[poll.ID]; !ok {
		return domain.ErrNotFound
	}
	s.data.polls[poll.ID] = copyPoll(*poll)
	return nil
}

func (s *Store) DeletePoll(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()
	if _, ok := s.data.polls[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.data.polls, id)
	for oid, o := range s.data.options {
		if o.PollID == id {
			delete(s.data.options, oid)
		}
	}
	for k, v := range s.data.votes {
		if v.PollID == id {
			delete(s.data.votes, k)
		}
	}
	return nil
}

func (s *Store) CreateOption(ctx context.Context, option *domain.Option) error {
	defer s.lock(ctx)()
	if _, ok := s.data.polls[option.PollID]; !ok {
		return domain.ErrNotFound
	}
	if _, exists := s.data.options[option.ID]; exists {
		return &domain.RepositoryError{Op: "create option", Err: domain.ErrConflict}
	}
	s.data.options[option.ID] = copyOption(*option)
	return nil
}

func (s *Store) GetOption(ctx context.Context, id uuid.UUID) (*domain.Option, error) {
	defer s.lock(ctx)()
	o, ok := s.data.options[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := copyOption(o)
	return &c, nil
}

// ListOptions returns the poll's options in display order.
func (s *Store) ListOptions(ctx context.Context, pollID uuid.UUID) ([]domain.Option, error) {
	defer s.lock(ctx)()
	options := make([]domain.Option, 0)
	for _, o := range s.data.options {
		if o.PollID == pollID {
			options = append(options, copyOption(o))
		}
	}
	sort.Slice(options, func(i, j int) bool {
		if options[i].OrderIndex != options[j].OrderIndex {
			return options[i].OrderIndex < options[j].OrderIndex
		}
		return options[i].CreatedAt.Before(options[j].CreatedAt)
	})
	return options, nil
}

func (s *Store) UpdateOption(ctx context.Context, option *domain.Option) error {
	defer s.lock(ctx)()
	if _, ok := s.data.options[option.ID]; !ok {
		return domain.ErrNotFound
	}
	s.data.options[option.ID] = copyOption(*option)
	return nil
}

func (s *Store) NextOptionOrder(ctx context.Context, pollID uuid.UUID) (int, error) {
	defer s.lock(ctx)()
	next := 0
	for _, o := range s.data.options {
		if o.PollID == pollID && o.OrderIndex >= next {
			next = o.OrderIndex + 1
		}
	}
	return next, nil
}

func (s *Store) GetVote(ctx context.Context, optionID, voterID uuid.UUID) (*domain.Vote, error) {
	defer s.lock(ctx)()
	v, ok := s.data.votes[voteKey{optionID, voterID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := copyVote(v)
	return &c, nil
}

// UpsertVote inserts or replaces the voter's vote on the option, keeping the
// original identity and creation time. A rank already held by the voter on
// another option of the poll is a conflict.
func (s *Store) UpsertVote(ctx context.Context, vote *domain.Vote) (*domain.Vote, error) {
	defer s.lock(ctx)()
	if _, ok := s.data.options[vote.OptionID]; !ok {
		return nil, domain.ErrNotFound
	}
	if vote.Rank != nil {
		for _, v := range s.data.votes {
			if v.PollID == vote.PollID && v.VoterID == vote.VoterID && v.OptionID != vote.OptionID &&
				v.Rank != nil && *v.Rank == *vote.Rank {
				return nil, &domain.RepositoryError{Op: "upsert vote", Err: domain.ErrConflict}
			}
		}
	}

	key := voteKey{vote.OptionID, vote.VoterID}
	stored := copyVote(*vote)
	if existing, ok := s.data.votes[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	s.data.votes[key] = stored
	c := copyVote(stored)
	return &c, nil
}

func (s *Store) DeleteVote(ctx context.Context, optionID, voterID uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	key := voteKey{optionID, voterID}
	if _, ok := s.data.votes[key]; !ok {
		return false, nil
	}
	delete(s.data.votes, key)
	return true, nil
}

func (s *Store) DeleteVoterVotes(ctx context.Context, pollID, voterID uuid.UUID) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for k, v := range s.data.votes {
		if v.PollID == pollID && v.VoterID == voterID {
			delete(s.data.votes, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) FindVoteByRank(ctx context.Context, pollID, voterID uuid.UUID, rank int) (*domain.Vote, error) {
	defer s.lock(ctx)()
	for _, v := range s.data.votes {
		if v.PollID == pollID && v.VoterID == voterID && v.Rank != nil && *v.Rank == rank {
			c := copyVote(v)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) ListVotes(ctx context.Context, pollID uuid.UUID) ([]domain.Vote, error) {
	defer s.lock(ctx)()
	return s.collectVotes(func(v domain.Vote) bool { return v.PollID == pollID }), nil
}

func (s *Store) ListOptionVotes(ctx context.Context, optionID uuid.UUID) ([]domain.Vote, error) {
	defer s.lock(ctx)()
	return s.collectVotes(func(v domain.Vote) bool { return v.OptionID == optionID }), nil
}

func (s *Store) collectVotes(match func(domain.Vote) bool) []domain.Vote {
	votes := make([]domain.Vote, 0)
	for _, v := range s.data.votes {
		if match(v) {
			votes = append(votes, copyVote(v))
		}
	}
	sort.Slice(votes, func(i, j int) bool {
		if !votes[i].CreatedAt.Equal(votes[j].CreatedAt) {
			return votes[i].CreatedAt.Before(votes[j].CreatedAt)
		}
		return votes[i].ID.String() < votes[j].ID.String()
	})
	return votes
}

func (s *Store) DeleteOptionVotes(ctx context.Context, optionID uuid.UUID) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for k, v := range s.data.votes {
		if v.OptionID == optionID {
			delete(s.data.votes, k)
			n++
		}
	}
	return n, nil
}

// CountVoters counts distinct voters with at least one vote on an option of
// the poll that is still tallied.
func (s *Store) CountVoters(ctx context.Context, pollID uuid.UUID) (int, error) {
	defer s.lock(ctx)()
	voters := make(map[uuid.UUID]struct{})
	for _, v := range s.data.votes {
		if v.PollID != pollID {
			continue
		}
		if o, ok := s.data.options[v.OptionID]; ok && o.Status.Tallied() {
			voters[v.VoterID] = struct{}{}
		}
	}
	return len(voters), nil
}
