package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type VotingSystem string

const (
	VotingBinary   VotingSystem = "binary"
	VotingApproval VotingSystem = "approval"
	VotingRanked   VotingSystem = "ranked"
	VotingStar     VotingSystem = "star"
)

func ParseVotingSystem(s string) (VotingSystem, error) {
	switch v := VotingSystem(strings.ToLower(strings.TrimSpace(s))); v {
	case VotingBinary, VotingApproval, VotingRanked, VotingStar:
		return v, nil
	case "":
		return VotingBinary, nil
	default:
		return "", NewValidationError("voting_system", "unknown voting system "+strconv.Quote(s))
	}
}

// PollType is an open-ended category tag. Only date selection carries
// structured metadata that the engine interprets.
type PollType string

const (
	PollTypeDateSelection  PollType = "date_selection"
	PollTypeVenueSelection PollType = "venue_selection"
	PollTypeGeneric        PollType = "generic"
)

func (t PollType) DateBearing() bool {
	return t == PollTypeDateSelection
}

type OptionStatus string

const (
	OptionActive  OptionStatus = "active"
	OptionHidden  OptionStatus = "hidden"
	OptionRemoved OptionStatus = "removed"
)

func ParseOptionStatus(s string) (OptionStatus, error) {
	switch st := OptionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case OptionActive, OptionHidden, OptionRemoved:
		return st, nil
	default:
		return "", NewValidationError("status", "unknown option status "+strconv.Quote(s))
	}
}

// Tallied reports whether votes on an option in this status still count.
func (s OptionStatus) Tallied() bool {
	return s != OptionRemoved
}

type Poll struct {
	ID                 uuid.UUID    `json:"id"`
	EventID            uuid.UUID    `json:"eventId"`
	CreatedBy          uuid.UUID    `json:"createdBy"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	PollType           PollType     `json:"pollType"`
	VotingSystem       VotingSystem `json:"votingSystem"`
	Phase              Phase        `json:"phase"`
	VotingDeadline     *time.Time   `json:"votingDeadline,omitempty"`
	AutoFinalizeVoters int          `json:"autoFinalizeVoters,omitempty"`
	FinalizedOptionIDs []uuid.UUID  `json:"finalizedOptionIds"`
	FinalizedDate      *time.Time   `json:"finalizedDate,omitempty"`
	FinalizedAt        *time.Time   `json:"finalizedAt,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// DeadlinePassed reports whether a vote at now arrives after the deadline.
func (p *Poll) DeadlinePassed(now time.Time) bool {
	return p.VotingDeadline != nil && !now.Before(*p.VotingDeadline)
}

type Option struct {
	ID           uuid.UUID      `json:"id"`
	PollID       uuid.UUID      `json:"pollId"`
	SuggestedBy  *uuid.UUID     `json:"suggestedBy,omitempty"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       OptionStatus   `json:"status"`
	OrderIndex   int            `json:"orderIndex"`
	Metadata     OptionMetadata `json:"metadata"`
	ExternalData ExternalData   `json:"externalData,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type BinaryValue string

const (
	BinaryYes   BinaryValue = "yes"
	BinaryMaybe BinaryValue = "maybe"
	BinaryNo    BinaryValue = "no"

	// ApprovalSelected is the only value an approval vote row carries.
	ApprovalSelected = "selected"
)

type Vote struct {
	ID        uuid.UUID `json:"id"`
	PollID    uuid.UUID `json:"pollId"`
	OptionID  uuid.UUID `json:"optionId"`
	VoterID   uuid.UUID `json:"voterId"`
	Value     string    `json:"value,omitempty"`
	Rank      *int      `json:"rank,omitempty"`
	Numeric   *float64  `json:"numeric,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VoteInput is the raw ballot entry for one option. Which field is read
// depends on the poll's voting system.
type VoteInput struct {
	Value    string   `json:"value,omitempty"`
	Selected *bool    `json:"selected,omitempty"`
	Rank     *int     `json:"rank,omitempty"`
	Numeric  *float64 `json:"numeric,omitempty"`
}

// RankedChoice is one line of a full ranked ballot.
type RankedChoice struct {
	OptionID uuid.UUID `json:"optionId"`
	Rank     int       `json:"rank"`
}

// Event is the owning event as seen through the Event collaborator.
type Event struct {
	ID       uuid.UUID  `json:"id"`
	Title    string     `json:"title"`
	StartsAt *time.Time `json:"startsAt,omitempty"`
	EndsAt   *time.Time `json:"endsAt,omitempty"`
	Timezone string     `json:"timezone"`
}

// Location resolves the event timezone, falling back to UTC.
func (e *Event) Location() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Role string

const (
	RoleNone        Role = ""
	RoleOrganizer   Role = "organizer"
	RoleCoHost      Role = "co_host"
	RoleParticipant Role = "participant"
)

// Elevated reports whether the role may manage polls of the event.
func (r Role) Elevated() bool {
	return r == RoleOrganizer || r == RoleCoHost
}

func (r Role) Member() bool {
	return r == RoleOrganizer || r == RoleCoHost || r == RoleParticipant
}

type CreatePollRequest struct {
	Title              string     `json:"title" binding:"required"`
	Description        string     `json:"description"`
	PollType           string     `json:"pollType"`
	VotingSystem       string     `json:"votingSystem"`
	VotingDeadline     *time.Time `json:"votingDeadline"`
	AutoFinalizeVoters int        `json:"autoFinalizeVoters"`
}

type CreateOptionRequest struct {
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description"`
	Metadata     *OptionMetadata `json:"metadata"`
	ExternalData ExternalData    `json:"externalData"`
}

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
)
