package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPollCreated             EventType = "poll.created"
	EventPollVotingStarted       EventType = "poll.voting_started"
	EventPollSuggestionsDisabled EventType = "poll.suggestions_disabled"
	EventPollVotingEnded         EventType = "poll.voting_ended"
	EventPollFinalized           EventType = "poll.finalized"
	EventPollManualResolution    EventType = "poll.manual_resolution_needed"
	EventPollDeleted             EventType = "poll.deleted"
	EventPollDeadlineChanged     EventType = "poll.deadline_changed"
	EventOptionCreated           EventType = "option.created"
	EventOptionUpdated           EventType = "option.updated"
	EventOptionsReordered        EventType = "option.reordered"
	EventVoteCast                EventType = "vote.cast"
	EventVoteRetracted           EventType = "vote.retracted"
	EventBallotCleared           EventType = "ballot.cleared"
	EventOptionVotesCleared      EventType = "option.votes_cleared"
)

// PollEvent is the notification emitted after a poll mutation commits.
type PollEvent struct {
	ID         uuid.UUID   `json:"id"`
	Type       EventType   `json:"type"`
	PollID     uuid.UUID   `json:"pollId"`
	EventID    uuid.UUID   `json:"eventId"`
	ActorID    uuid.UUID   `json:"actorId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data,omitempty"`
}

func NewPollEvent(t EventType, poll *Poll, actor uuid.UUID, data interface{}) PollEvent {
	return PollEvent{
		ID:         uuid.New(),
		Type:       t,
		PollID:     poll.ID,
		EventID:    poll.EventID,
		ActorID:    actor,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// PollTopic and EventTopic are the realtime fan-out topics for an event.
func (e PollEvent) PollTopic() string  { return "poll." + e.PollID.String() }
func (e PollEvent) EventTopic() string { return "event." + e.EventID.String() }

// PhaseChange is the payload of phase transition events.
type PhaseChange struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

// Finalization is the payload of poll.finalized and
// poll.manual_resolution_needed.
type Finalization struct {
	Strategy         string      `json:"strategy"`
	OptionIDs        []uuid.UUID `json:"optionIds"`
	FinalizedDate    *time.Time  `json:"finalizedDate,omitempty"`
	EventStartsAt    *time.Time  `json:"eventStartsAt,omitempty"`
	EventEndsAt      *time.Time  `json:"eventEndsAt,omitempty"`
	AutoFinalized    bool        `json:"autoFinalized,omitempty"`
	ManualResolution bool        `json:"manualResolution,omitempty"`
}

// VoteActivity is the payload of vote and ballot events.
type VoteActivity struct {
	OptionID *uuid.UUID `json:"optionId,omitempty"`
	VoterID  *uuid.UUID `json:"voterId,omitempty"`
	Vote     *Vote      `json:"vote,omitempty"`
	Removed  int        `json:"removed,omitempty"`
}
