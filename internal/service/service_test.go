package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/finalize"
	"github.com/behzadon/gather/internal/storage/memory"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.PollEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockPublisher) published() []domain.EventType {
	var types []domain.EventType
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			types = append(types, call.Arguments.Get(1).(domain.PollEvent).Type)
		}
	}
	return types
}

type memoryCache struct {
	mu      sync.Mutex
	results map[uuid.UUID]*domain.PollResults
	sets    int
}

func (c *memoryCache) GetPollResults(_ context.Context, pollID uuid.UUID) (*domain.PollResults, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[pollID], nil
}

func (c *memoryCache) SetPollResults(_ context.Context, r *domain.PollResults) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.PollID] = r
	c.sets++
	return nil
}

func (c *memoryCache) InvalidatePollResults(_ context.Context, pollID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, pollID)
	return nil
}

// failingSchedule makes every event schedule update fail.
type failingSchedule struct {
	domain.EventDirectory
}

func (failingSchedule) UpdateEventSchedule(context.Context, uuid.UUID, time.Time, *time.Time) error {
	return errors.New("calendar unavailable")
}

type env struct {
	ctx         context.Context
	store       *memory.Store
	pub         *MockPublisher
	cache       *memoryCache
	svc         Service
	now         time.Time
	event       *domain.Event
	organizer   uuid.UUID
	participant uuid.UUID
	other       uuid.UUID
	outsider    uuid.UUID
}

func newEnv(t *testing.T, opts ...func(*env) domain.EventDirectory) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	starts := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	ends := starts.Add(3 * time.Hour)
	e := &env{
		ctx:         ctx,
		store:       store,
		pub:         new(MockPublisher),
		cache:       &memoryCache{results: map[uuid.UUID]*domain.PollResults{}},
		now:         time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		event:       &domain.Event{ID: uuid.New(), Title: "Reunion", StartsAt: &starts, EndsAt: &ends, Timezone: "UTC"},
		organizer:   uuid.New(),
		participant: uuid.New(),
		other:       uuid.New(),
		outsider:    uuid.New(),
	}
	store.PutEvent(ctx, e.event)
	store.SetRole(ctx, e.event.ID, e.organizer, domain.RoleOrganizer)
	store.SetRole(ctx, e.event.ID, e.participant, domain.RoleParticipant)
	store.SetRole(ctx, e.event.ID, e.other, domain.RoleParticipant)
	e.pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	var directory domain.EventDirectory = store
	for _, opt := range opts {
		directory = opt(e)
	}
	e.svc = NewService(store, directory, store, e.pub, zap.NewNop(),
		WithTallyCache(e.cache),
		WithClock(func() time.Time { return e.now }),
	)
	return e
}

func (e *env) poll(t *testing.T, system domain.VotingSystem, pollType domain.PollType) *domain.Poll {
	t.Helper()
	p, err := e.svc.CreatePoll(e.ctx, e.event.ID, e.organizer, &domain.CreatePollRequest{
		Title:        "Pick one",
		PollType:     string(pollType),
		VotingSystem: string(system),
	})
	require.NoError(t, err)
	return p
}

func (e *env) option(t *testing.T, pollID uuid.UUID, title string, meta *domain.OptionMetadata) *domain.Option {
	t.Helper()
	o, err := e.svc.CreateOption(e.ctx, e.participant, pollID, &domain.CreateOptionRequest{Title: title, Metadata: meta})
	require.NoError(t, err)
	return o
}

func (e *env) open(t *testing.T, pollID uuid.UUID) {
	t.Helper()
	_, err := e.svc.TransitionPhase(e.ctx, e.organizer, pollID, "voting_only")
	require.NoError(t, err)
}

func (e *env) vote(t *testing.T, voter, pollID, optionID uuid.UUID, in domain.VoteInput) {
	t.Helper()
	_, err := e.svc.CastVote(e.ctx, voter, pollID, optionID, in)
	require.NoError(t, err)
}

func (e *env) member(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	e.store.SetRole(e.ctx, e.event.ID, id, domain.RoleParticipant)
	return id
}

func dateMeta(date string, slots ...domain.TimeRange) *domain.OptionMetadata {
	dt := &domain.DateTimeMetadata{Date: date, AllDay: len(slots) == 0}
	if len(slots) > 0 {
		dt.TimeEnabled = true
		dt.TimeSlots = slots
	}
	return &domain.OptionMetadata{DateTime: dt}
}

func TestService_CreatePoll(t *testing.T) {
	tests := []struct {
		name    string
		actor   func(e *env) uuid.UUID
		req     *domain.CreatePollRequest
		wantErr error
	}{
		{
			name:  "organizer creates binary poll by default",
			actor: func(e *env) uuid.UUID { return e.organizer },
			req:   &domain.CreatePollRequest{Title: "When?"},
		},
		{
			name:    "participant cannot create",
			actor:   func(e *env) uuid.UUID { return e.participant },
			req:     &domain.CreatePollRequest{Title: "When?"},
			wantErr: domain.ErrForbidden,
		},
		{
			name:    "missing title",
			actor:   func(e *env) uuid.UUID { return e.organizer },
			req:     &domain.CreatePollRequest{Title: "  "},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "unknown voting system",
			actor:   func(e *env) uuid.UUID { return e.organizer },
			req:     &domain.CreatePollRequest{Title: "When?", VotingSystem: "borda"},
			wantErr: domain.ErrValidation,
		},
		{
			name:  "deadline in the past",
			actor: func(e *env) uuid.UUID { return e.organizer },
			req: &domain.CreatePollRequest{Title: "When?", VotingDeadline: func() *time.Time {
				d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
				return &d
			}()},
			wantErr: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			p, err := e.svc.CreatePoll(e.ctx, e.event.ID, tt.actor(e), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				assert.Empty(t, e.pub.published())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.PhaseBuilding, p.Phase)
			assert.Equal(t, domain.VotingBinary, p.VotingSystem)
			assert.Equal(t, domain.PollTypeGeneric, p.PollType)
			assert.Empty(t, p.FinalizedOptionIDs)
			assert.Equal(t, []domain.EventType{domain.EventPollCreated}, e.pub.published())
		})
	}
}

func TestService_CreatePollUnknownEvent(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.CreatePoll(e.ctx, uuid.New(), e.organizer, &domain.CreatePollRequest{Title: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_TransitionPhase(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)

	_, err := e.svc.TransitionPhase(e.ctx, e.participant, p.ID, "voting")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := e.svc.TransitionPhase(e.ctx, e.organizer, p.ID, "voting")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVotingWithSuggestions, got.Phase)

	_, err = e.svc.TransitionPhase(e.ctx, e.organizer, p.ID, "building")
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.PhaseVotingWithSuggestions, te.From)
	assert.Equal(t, domain.PhaseBuilding, te.To)

	got, err = e.svc.TransitionPhase(e.ctx, e.organizer, p.ID, "voting_only")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVotingOnly, got.Phase)

	got, err = e.svc.TransitionPhase(e.ctx, e.organizer, p.ID, "closed")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, got.Phase)
	assert.Empty(t, got.FinalizedOptionIDs)

	_, err = e.svc.TransitionPhase(e.ctx, e.organizer, p.ID, "voting_only")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	assert.Equal(t, []domain.EventType{
		domain.EventPollCreated,
		domain.EventPollVotingStarted,
		domain.EventPollSuggestionsDisabled,
		domain.EventPollVotingEnded,
	}, e.pub.published())
}

func TestService_CreateOption(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeDateSelection)

	_, err := e.svc.CreateOption(e.ctx, e.participant, p.ID, &domain.CreateOptionRequest{Title: "Friday"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.svc.CreateOption(e.ctx, e.outsider, p.ID, &domain.CreateOptionRequest{Title: "Friday", Metadata: dateMeta("2026-06-12")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	first := e.option(t, p.ID, "Friday", dateMeta("2026-06-12T00:00:00Z"))
	assert.Equal(t, "2026-06-12", first.Metadata.DateTime.Date)
	assert.Equal(t, "All day", first.Metadata.DateTime.DisplayTime)
	require.NotNil(t, first.SuggestedBy)
	assert.Equal(t, e.participant, *first.SuggestedBy)

	second := e.option(t, p.ID, "Saturday", dateMeta("2026-06-13", domain.TimeRange{Start: "10:00", End: "12:00"}))
	assert.Equal(t, 1, second.OrderIndex)

	e.open(t, p.ID)
	_, err = e.svc.CreateOption(e.ctx, e.participant, p.ID, &domain.CreateOptionRequest{Title: "Sunday", Metadata: dateMeta("2026-06-14")})
	assert.ErrorIs(t, err, domain.ErrProposalsClosed)
}

func TestService_CastVote(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	o := e.option(t, p.ID, "Pizza", nil)

	_, err := e.svc.CastVote(e.ctx, e.participant, p.ID, o.ID, domain.VoteInput{Value: "yes"})
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	e.open(t, p.ID)

	for i := 0; i < 3; i++ {
		e.vote(t, e.participant, p.ID, o.ID, domain.VoteInput{Value: "yes"})
	}
	votes, err := e.store.ListOptionVotes(e.ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 1, "repeated casts upsert a single row")

	_, err = e.svc.CastVote(e.ctx, e.participant, p.ID, o.ID, domain.VoteInput{Value: "perhaps"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.svc.CastVote(e.ctx, e.outsider, p.ID, o.ID, domain.VoteInput{Value: "yes"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.svc.CastVote(e.ctx, e.participant, p.ID, uuid.New(), domain.VoteInput{Value: "yes"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tally, err := e.svc.Tally(e.ctx, e.participant, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tally.Score)
	assert.Equal(t, 100.0, tally.Percentage)
}

func TestService_CastVoteAfterDeadline(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingStar, domain.PollTypeGeneric)
	o := e.option(t, p.ID, "Museum", nil)
	e.open(t, p.ID)

	deadline := e.now.Add(time.Hour)
	_, err := e.svc.SetVotingDeadline(e.ctx, e.organizer, p.ID, &deadline)
	require.NoError(t, err)

	stars := 4.0
	e.vote(t, e.participant, p.ID, o.ID, domain.VoteInput{Numeric: &stars})

	e.now = deadline
	_, err = e.svc.CastVote(e.ctx, e.participant, p.ID, o.ID, domain.VoteInput{Numeric: &stars})
	assert.ErrorIs(t, err, domain.ErrDeadlinePassed)
	assert.Equal(t, "deadline_passed", domain.StateCode(err))
}

func TestService_PublishFailureDoesNotUnwindVote(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	o := e.option(t, p.ID, "Tacos", nil)
	e.open(t, p.ID)

	e.pub.ExpectedCalls = nil
	e.pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	vote, err := e.svc.CastVote(e.ctx, e.participant, p.ID, o.ID, domain.VoteInput{Value: "maybe"})
	require.NoError(t, err)
	assert.Equal(t, "maybe", vote.Value)

	stored, err := e.store.GetVote(e.ctx, o.ID, e.participant)
	require.NoError(t, err)
	assert.Equal(t, vote.ID, stored.ID)
}

func TestService_ApprovalBallot(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingApproval, domain.PollTypeGeneric)
	a := e.option(t, p.ID, "Hike", nil)
	b := e.option(t, p.ID, "Beach", nil)
	c := e.option(t, p.ID, "Cinema", nil)
	e.open(t, p.ID)

	_, err := e.svc.SetApprovals(e.ctx, e.participant, p.ID, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	_, err = e.svc.SetApprovals(e.ctx, e.other, p.ID, []uuid.UUID{a.ID})
	require.NoError(t, err)

	_, err = e.svc.SetApprovals(e.ctx, e.participant, p.ID, []uuid.UUID{c.ID, uuid.New()})
	assert.ErrorIs(t, err, domain.ErrValidation)

	results, err := e.svc.TallyAll(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	require.Len(t, results.Results, 3)
	assert.Equal(t, 2, results.TotalVoters)
	assert.Equal(t, a.ID, results.Results[0].Option.ID)
	assert.Equal(t, 100.0, results.Results[0].Tally.Percentage)
	assert.Equal(t, b.ID, results.Results[1].Option.ID)
	assert.Equal(t, 50.0, results.Results[1].Tally.Percentage)

	// deselect through a single cast
	selected := false
	vote, err := e.svc.CastVote(e.ctx, e.participant, p.ID, b.ID, domain.VoteInput{Selected: &selected})
	require.NoError(t, err)
	assert.Nil(t, vote)
	_, err = e.store.GetVote(e.ctx, b.ID, e.participant)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.svc.SubmitRankedBallot(e.ctx, e.participant, p.ID, []domain.RankedChoice{{OptionID: a.ID, Rank: 1}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestService_RankedBallotIsAtomic(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingRanked, domain.PollTypeGeneric)
	a := e.option(t, p.ID, "A", nil)
	b := e.option(t, p.ID, "B", nil)
	c := e.option(t, p.ID, "C", nil)
	e.open(t, p.ID)

	_, err := e.svc.SubmitRankedBallot(e.ctx, e.participant, p.ID, []domain.RankedChoice{
		{OptionID: a.ID, Rank: 1}, {OptionID: b.ID, Rank: 2}, {OptionID: c.ID, Rank: 3},
	})
	require.NoError(t, err)
	before, err := e.store.ListVotes(e.ctx, p.ID)
	require.NoError(t, err)

	_, err = e.svc.SubmitRankedBallot(e.ctx, e.participant, p.ID, []domain.RankedChoice{
		{OptionID: c.ID, Rank: 1}, {OptionID: a.ID, Rank: 1},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	after, err := e.store.ListVotes(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// a second voter may reuse the same ranks
	_, err = e.svc.SubmitRankedBallot(e.ctx, e.other, p.ID, []domain.RankedChoice{{OptionID: b.ID, Rank: 1}})
	require.NoError(t, err)

	// single cast onto a held rank evicts the previous holder
	rank := 1
	e.vote(t, e.participant, p.ID, c.ID, domain.VoteInput{Rank: &rank})
	_, err = e.store.GetVote(e.ctx, a.ID, e.participant)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	results, err := e.svc.TallyAll(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	require.Len(t, results.Results, 3)
	assert.Equal(t, c.ID, results.Results[0].Option.ID)
	assert.Equal(t, b.ID, results.Results[1].Option.ID)
	assert.Equal(t, 1.5, results.Results[1].Tally.Breakdown.AverageRank)
	assert.Equal(t, a.ID, results.Results[2].Option.ID)
	assert.Equal(t, domain.NoVotesAverageRank, results.Results[2].Tally.Breakdown.AverageRank)
}

func TestService_ClearAndRetract(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	a := e.option(t, p.ID, "A", nil)
	b := e.option(t, p.ID, "B", nil)
	e.open(t, p.ID)

	e.vote(t, e.participant, p.ID, a.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.participant, p.ID, b.ID, domain.VoteInput{Value: "no"})
	e.vote(t, e.other, p.ID, a.ID, domain.VoteInput{Value: "yes"})

	removed, err := e.svc.RetractVote(e.ctx, e.other, p.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = e.svc.RetractVote(e.ctx, e.other, p.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := e.svc.ClearVoterBallot(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e.vote(t, e.other, p.ID, b.ID, domain.VoteInput{Value: "yes"})
	_, err = e.svc.ClearOptionVotes(e.ctx, e.participant, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	n, err = e.svc.ClearOptionVotes(e.ctx, e.organizer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Contains(t, e.pub.published(), domain.EventBallotCleared)
	assert.Contains(t, e.pub.published(), domain.EventOptionVotesCleared)

	var retracted []domain.VoteActivity
	for _, call := range e.pub.Calls {
		if call.Method != "Publish" {
			continue
		}
		if evt := call.Arguments.Get(1).(domain.PollEvent); evt.Type == domain.EventVoteRetracted {
			retracted = append(retracted, evt.Data.(domain.VoteActivity))
		}
	}
	require.Len(t, retracted, 1, "a retraction with nothing to remove publishes nothing")
	require.NotNil(t, retracted[0].Vote)
	assert.Equal(t, e.other, retracted[0].Vote.VoterID)
	assert.Equal(t, "yes", retracted[0].Vote.Value)
}

func TestService_TallyAllUsesCache(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	o := e.option(t, p.ID, "A", nil)
	e.open(t, p.ID)

	values := []string{"yes", "yes", "yes", "maybe", "maybe", "no"}
	for _, v := range values {
		e.vote(t, e.member(t), p.ID, o.ID, domain.VoteInput{Value: v})
	}

	results, err := e.svc.TallyAll(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, 4.0, results.Results[0].Tally.Score)
	assert.Equal(t, 66.7, results.Results[0].Tally.Percentage)
	assert.Equal(t, 1, e.cache.sets)

	_, err = e.svc.TallyAll(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.cache.sets, "second read served from cache")

	e.vote(t, e.participant, p.ID, o.ID, domain.VoteInput{Value: "yes"})
	results, err = e.svc.TallyAll(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, results.Results[0].Tally.TotalVotes)
	assert.Equal(t, 2, e.cache.sets)
}

func TestService_RemovedOptionsDropOutOfTallies(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	a := e.option(t, p.ID, "A", nil)
	b := e.option(t, p.ID, "B", nil)
	e.open(t, p.ID)

	e.vote(t, e.participant, p.ID, a.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.other, p.ID, a.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.participant, p.ID, b.ID, domain.VoteInput{Value: "yes"})

	_, err := e.svc.UpdateOptionStatus(e.ctx, e.organizer, a.ID, "removed")
	require.NoError(t, err)

	votes, err := e.store.ListOptionVotes(e.ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 2, "votes on a removed option are kept")

	results, err := e.svc.TallyAll(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, b.ID, results.Results[0].Option.ID)

	_, err = e.svc.CastVote(e.ctx, e.other, p.ID, a.ID, domain.VoteInput{Value: "no"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err := e.svc.Finalize(e.ctx, e.organizer, p.ID, finalize.Request{Strategy: finalize.HighestVotes})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, res.Poll.FinalizedOptionIDs)
}

func TestService_ReorderOptions(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	a := e.option(t, p.ID, "A", nil)
	b := e.option(t, p.ID, "B", nil)

	_, err := e.svc.ReorderOptions(e.ctx, e.organizer, p.ID, []uuid.UUID{b.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.svc.ReorderOptions(e.ctx, e.organizer, p.ID, []uuid.UUID{b.ID, b.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.svc.ReorderOptions(e.ctx, e.organizer, p.ID, []uuid.UUID{b.ID, a.ID})
	require.NoError(t, err)

	options, err := e.svc.ListOptions(e.ctx, e.participant, p.ID)
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, b.ID, options[0].ID)
	assert.Equal(t, a.ID, options[1].ID)
}

func TestService_FinalizeSingleDateMovesEvent(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeDateSelection)
	fri := e.option(t, p.ID, "Friday", dateMeta("2026-06-12"))
	sat := e.option(t, p.ID, "Saturday", dateMeta("2026-06-13"))
	e.open(t, p.ID)

	e.vote(t, e.participant, p.ID, fri.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.other, p.ID, fri.ID, domain.VoteInput{Value: "maybe"})
	e.vote(t, e.other, p.ID, sat.ID, domain.VoteInput{Value: "yes"})

	res, err := e.svc.Finalize(e.ctx, e.organizer, p.ID, finalize.Request{Strategy: finalize.HighestVotes})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, res.Poll.Phase)
	assert.Equal(t, []uuid.UUID{fri.ID}, res.Poll.FinalizedOptionIDs)
	require.NotNil(t, res.Poll.FinalizedDate)
	assert.Equal(t, "2026-06-12", res.Poll.FinalizedDate.Format(domain.DateLayout))
	assert.False(t, res.ManualResolutionNeeded)

	event, err := e.store.GetEvent(e.ctx, e.event.ID)
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC).Equal(*event.StartsAt))
	assert.True(t, time.Date(2026, 6, 12, 21, 0, 0, 0, time.UTC).Equal(*event.EndsAt))
	require.NotNil(t, res.Event)
	assert.True(t, event.StartsAt.Equal(*res.Event.StartsAt))

	_, err = e.svc.CastVote(e.ctx, e.participant, p.ID, sat.ID, domain.VoteInput{Value: "yes"})
	assert.ErrorIs(t, err, domain.ErrVotingClosed)
	_, err = e.svc.Finalize(e.ctx, e.organizer, p.ID, finalize.Request{})
	assert.ErrorIs(t, err, domain.ErrPollClosed)

	assert.Contains(t, e.pub.published(), domain.EventPollFinalized)
	assert.NotContains(t, e.pub.published(), domain.EventPollManualResolution)
}

func TestService_FinalizeTieLeavesEventDate(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeDateSelection)
	fri := e.option(t, p.ID, "Friday", dateMeta("2026-06-12"))
	sat := e.option(t, p.ID, "Saturday", dateMeta("2026-06-13", domain.TimeRange{Start: "10:00", End: "12:00"}))
	e.open(t, p.ID)

	e.vote(t, e.participant, p.ID, fri.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.other, p.ID, sat.ID, domain.VoteInput{Value: "yes"})

	res, err := e.svc.Finalize(e.ctx, e.organizer, p.ID, finalize.Request{Strategy: finalize.HighestVotes})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{fri.ID, sat.ID}, res.Poll.FinalizedOptionIDs)
	assert.True(t, res.ManualResolutionNeeded)
	assert.Nil(t, res.Event)
	assert.Nil(t, res.Poll.FinalizedDate)

	event, err := e.store.GetEvent(e.ctx, e.event.ID)
	require.NoError(t, err)
	assert.True(t, e.event.StartsAt.Equal(*event.StartsAt))
	assert.Contains(t, e.pub.published(), domain.EventPollManualResolution)
	assert.True(t, finalization(t, e.pub).ManualResolution)
}

func TestService_FinalizeCoWinnersWithoutDate(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	a := e.option(t, p.ID, "Pizza", nil)
	b := e.option(t, p.ID, "Tacos", nil)
	e.open(t, p.ID)

	e.vote(t, e.participant, p.ID, a.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.other, p.ID, b.ID, domain.VoteInput{Value: "yes"})

	res, err := e.svc.Finalize(e.ctx, e.organizer, p.ID, finalize.Request{Strategy: finalize.HighestVotes})
	require.NoError(t, err)
	assert.False(t, res.ManualResolutionNeeded)
	assert.NotContains(t, e.pub.published(), domain.EventPollManualResolution)

	payload := finalization(t, e.pub)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, payload.OptionIDs)
	assert.False(t, payload.ManualResolution)
}

// finalization returns the payload of the published poll.finalized event.
func finalization(t *testing.T, pub *MockPublisher) domain.Finalization {
	t.Helper()
	for _, call := range pub.Calls {
		if call.Method != "Publish" {
			continue
		}
		if evt := call.Arguments.Get(1).(domain.PollEvent); evt.Type == domain.EventPollFinalized {
			return evt.Data.(domain.Finalization)
		}
	}
	require.FailNow(t, "poll.finalized was not published")
	return domain.Finalization{}
}

func TestService_FinalizeFailuresLeavePollUntouched(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, e *env, p *domain.Poll)
		req     finalize.Request
		wantErr error
	}{
		{
			name:    "no options",
			setup:   func(t *testing.T, e *env, p *domain.Poll) { e.open(t, p.ID) },
			req:     finalize.Request{Strategy: finalize.HighestVotes},
			wantErr: domain.ErrNoOptions,
		},
		{
			name: "no votes",
			setup: func(t *testing.T, e *env, p *domain.Poll) {
				e.option(t, p.ID, "A", nil)
				e.open(t, p.ID)
			},
			req:     finalize.Request{Strategy: finalize.MostYesVotes},
			wantErr: domain.ErrNoVotes,
		},
		{
			name: "manual without ids",
			setup: func(t *testing.T, e *env, p *domain.Poll) {
				e.option(t, p.ID, "A", nil)
				e.open(t, p.ID)
			},
			req:     finalize.Request{Strategy: finalize.Manual},
			wantErr: domain.ErrValidation,
		},
		{
			name: "still building",
			setup: func(t *testing.T, e *env, p *domain.Poll) {
				e.option(t, p.ID, "A", nil)
			},
			req:     finalize.Request{Strategy: finalize.HighestVotes},
			wantErr: domain.ErrIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
			tt.setup(t, e, p)
			before, err := e.store.GetPoll(e.ctx, p.ID)
			require.NoError(t, err)

			_, err = e.svc.Finalize(e.ctx, e.organizer, p.ID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			after, err := e.store.GetPoll(e.ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestService_FinalizeRollsBackWhenEventUpdateFails(t *testing.T) {
	e := newEnv(t, func(e *env) domain.EventDirectory { return failingSchedule{e.store} })
	p := e.poll(t, domain.VotingBinary, domain.PollTypeDateSelection)
	fri := e.option(t, p.ID, "Friday", dateMeta("2026-06-12"))
	e.open(t, p.ID)
	e.vote(t, e.participant, p.ID, fri.ID, domain.VoteInput{Value: "yes"})

	_, err := e.svc.Finalize(e.ctx, e.organizer, p.ID, finalize.Request{Strategy: finalize.Manual, OptionIDs: []uuid.UUID{fri.ID}})
	require.Error(t, err)

	stored, err := e.store.GetPoll(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVotingOnly, stored.Phase)
	assert.Empty(t, stored.FinalizedOptionIDs)
	assert.NotContains(t, e.pub.published(), domain.EventPollFinalized)
}

func TestService_AutoFinalize(t *testing.T) {
	e := newEnv(t)
	p, err := e.svc.CreatePoll(e.ctx, e.event.ID, e.organizer, &domain.CreatePollRequest{
		Title:              "Snacks",
		VotingSystem:       "binary",
		AutoFinalizeVoters: 2,
	})
	require.NoError(t, err)
	a := e.option(t, p.ID, "Chips", nil)
	b := e.option(t, p.ID, "Fruit", nil)
	e.open(t, p.ID)

	e.vote(t, e.participant, p.ID, a.ID, domain.VoteInput{Value: "yes"})
	e.vote(t, e.participant, p.ID, b.ID, domain.VoteInput{Value: "no"})
	stored, err := e.store.GetPoll(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVotingOnly, stored.Phase, "one voter is below the threshold")

	e.vote(t, e.other, p.ID, b.ID, domain.VoteInput{Value: "yes"})
	stored, err = e.store.GetPoll(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, stored.Phase)
	assert.Equal(t, []uuid.UUID{b.ID}, stored.FinalizedOptionIDs)
}

func TestService_DeletePoll(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
	o := e.option(t, p.ID, "A", nil)
	e.open(t, p.ID)
	e.vote(t, e.participant, p.ID, o.ID, domain.VoteInput{Value: "yes"})

	assert.ErrorIs(t, e.svc.DeletePoll(e.ctx, e.participant, p.ID), domain.ErrForbidden)
	require.NoError(t, e.svc.DeletePoll(e.ctx, e.organizer, p.ID))

	_, err := e.svc.GetPoll(e.ctx, e.organizer, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.store.GetOption(e.ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	polls, err := e.svc.ListPolls(e.ctx, e.participant, e.event.ID)
	require.NoError(t, err)
	assert.Empty(t, polls)
	assert.Contains(t, e.pub.published(), domain.EventPollDeleted)
}

// conflictingStore loses the uniqueness race on the first upserts it sees.
type conflictingStore struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
	upserts   int
}

func (c *conflictingStore) UpsertVote(ctx context.Context, vote *domain.Vote) (*domain.Vote, error) {
	c.mu.Lock()
	c.upserts++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return nil, &domain.RepositoryError{Op: "upsert vote", Err: domain.ErrConflict}
	}
	c.mu.Unlock()
	return c.Store.UpsertVote(ctx, vote)
}

func TestService_CastVoteReplaysConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		attempts  uint
		wantErr   error
		wantRows  int
	}{
		{name: "first attempt conflicts", conflicts: 1, attempts: 3, wantRows: 1},
		{name: "conflicts outlast attempts", conflicts: 5, attempts: 2, wantErr: domain.ErrConflict, wantRows: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			p := e.poll(t, domain.VotingBinary, domain.PollTypeGeneric)
			o := e.option(t, p.ID, "Pizza", nil)
			e.open(t, p.ID)

			repo := &conflictingStore{Store: e.store, conflicts: tt.conflicts}
			svc := NewService(repo, e.store, e.store, e.pub, zap.NewNop(),
				WithClock(func() time.Time { return e.now }),
				WithConflictAttempts(tt.attempts),
			)

			vote, err := svc.CastVote(e.ctx, e.participant, p.ID, o.ID, domain.VoteInput{Value: "yes"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, int(tt.attempts), repo.upserts)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "yes", vote.Value)
				assert.Equal(t, tt.conflicts+1, repo.upserts)
			}

			votes, err := e.store.ListOptionVotes(e.ctx, o.ID)
			require.NoError(t, err)
			assert.Len(t, votes, tt.wantRows)
		})
	}
}

func TestService_ConcurrentCastsKeepOneRow(t *testing.T) {
	e := newEnv(t)
	p := e.poll(t, domain.VotingStar, domain.PollTypeGeneric)
	o := e.option(t, p.ID, "Pizza", nil)
	e.open(t, p.ID)

	const casts = 20
	var wg sync.WaitGroup
	errs := make(chan error, casts)
	for i := 0; i < casts; i++ {
		rating := float64(i%5 + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.CastVote(e.ctx, e.participant, p.ID, o.ID, domain.VoteInput{Numeric: &rating})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	votes, err := e.store.ListOptionVotes(e.ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 1)

	voters, err := e.store.CountVoters(e.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, voters)
}
