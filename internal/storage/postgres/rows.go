package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/behzadon/gather/internal/domain"
)

type pollRow struct {
	ID                 uuid.UUID      `db:"id"`
	EventID            uuid.UUID      `db:"event_id"`
	CreatedBy          uuid.UUID      `db:"created_by"`
	Title              string         `db:"title"`
	Description        string         `db:"description"`
	PollType           string         `db:"poll_type"`
	VotingSystem       string         `db:"voting_system"`
	Phase              string         `db:"phase"`
	VotingDeadline     sql.NullTime   `db:"voting_deadline"`
	AutoFinalizeVoters int            `db:"auto_finalize_voters"`
	FinalizedOptionIDs pq.StringArray `db:"finalized_option_ids"`
	FinalizedDate      sql.NullTime   `db:"finalized_date"`
	FinalizedAt        sql.NullTime   `db:"finalized_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func fromPoll(p *domain.Poll) pollRow {
	ids := make(pq.StringArray, len(p.FinalizedOptionIDs))
	for i, id := range p.FinalizedOptionIDs {
		ids[i] = id.String()
	}
	return pollRow{
		ID:                 p.ID,
		EventID:            p.EventID,
		CreatedBy:          p.CreatedBy,
		Title:              p.Title,
		Description:        p.Description,
		PollType:           string(p.PollType),
		VotingSystem:       string(p.VotingSystem),
		Phase:              string(p.Phase),
		VotingDeadline:     nullTime(p.VotingDeadline),
		AutoFinalizeVoters: p.AutoFinalizeVoters,
		FinalizedOptionIDs: ids,
		FinalizedDate:      nullTime(p.FinalizedDate),
		FinalizedAt:        nullTime(p.FinalizedAt),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func (r pollRow) toDomain() (*domain.Poll, error) {
	ids := make([]uuid.UUID, 0, len(r.FinalizedOptionIDs))
	for _, s := range r.FinalizedOptionIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("poll %s: finalized option id %q: %w", r.ID, s, err)
		}
		ids = append(ids, id)
	}
	return &domain.Poll{
		ID:                 r.ID,
		EventID:            r.EventID,
		CreatedBy:          r.CreatedBy,
		Title:              r.Title,
		Description:        r.Description,
		PollType:           domain.PollType(r.PollType),
		VotingSystem:       domain.VotingSystem(r.VotingSystem),
		Phase:              domain.Phase(r.Phase),
		VotingDeadline:     timePtr(r.VotingDeadline),
		AutoFinalizeVoters: r.AutoFinalizeVoters,
		FinalizedOptionIDs: ids,
		FinalizedDate:      timePtr(r.FinalizedDate),
		FinalizedAt:        timePtr(r.FinalizedAt),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

type optionRow struct {
	ID           uuid.UUID             `db:"id"`
	PollID       uuid.UUID             `db:"poll_id"`
	SuggestedBy  uuid.NullUUID         `db:"suggested_by"`
	Title        string                `db:"title"`
	Description  string                `db:"description"`
	Status       string                `db:"status"`
	OrderIndex   int                   `db:"order_index"`
	Metadata     domain.OptionMetadata `db:"metadata"`
	ExternalData domain.ExternalData   `db:"external_data"`
	CreatedAt    time.Time             `db:"created_at"`
	UpdatedAt    time.Time             `db:"updated_at"`
}

func fromOption(o *domain.Option) optionRow {
	row := optionRow{
		ID:           o.ID,
		PollID:       o.PollID,
		Title:        o.Title,
		Description:  o.Description,
		Status:       string(o.Status),
		OrderIndex:   o.OrderIndex,
		Metadata:     o.Metadata,
		ExternalData: o.ExternalData,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if o.SuggestedBy != nil {
		row.SuggestedBy = uuid.NullUUID{UUID: *o.SuggestedBy, Valid: true}
	}
	return row
}

func (r optionRow) toDomain() domain.Option {
	o := domain.Option{
		ID:           r.ID,
		PollID:       r.PollID,
		Title:        r.Title,
		Description:  r.Description,
		Status:       domain.OptionStatus(r.Status),
		OrderIndex:   r.OrderIndex,
		Metadata:     r.Metadata,
		ExternalData: r.ExternalData,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.SuggestedBy.Valid {
		id := r.SuggestedBy.UUID
		o.SuggestedBy = &id
	}
	return o
}

type voteRow struct {
	ID        uuid.UUID       `db:"id"`
	PollID    uuid.UUID       `db:"poll_id"`
	OptionID  uuid.UUID       `db:"option_id"`
	VoterID   uuid.UUID       `db:"voter_id"`
	Value     string          `db:"value"`
	Rank      sql.NullInt64   `db:"rank"`
	Numeric   sql.NullFloat64 `db:"numeric_value"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func fromVote(v *domain.Vote) voteRow {
	row := voteRow{
		ID:        v.ID,
		PollID:    v.PollID,
		OptionID:  v.OptionID,
		VoterID:   v.VoterID,
		Value:     v.Value,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
	if v.Rank != nil {
		row.Rank = sql.NullInt64{Int64: int64(*v.Rank), Valid: true}
	}
	if v.Numeric != nil {
		row.Numeric = sql.NullFloat64{Float64: *v.Numeric, Valid: true}
	}
	return row
}

func (r voteRow) toDomain() domain.Vote {
	v := domain.Vote{
		ID:        r.ID,
		PollID:    r.PollID,
		OptionID:  r.OptionID,
		VoterID:   r.VoterID,
		Value:     r.Value,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Rank.Valid {
		rank := int(r.Rank.Int64)
		v.Rank = &rank
	}
	if r.Numeric.Valid {
		n := r.Numeric.Float64
		v.Numeric = &n
	}
	return v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
