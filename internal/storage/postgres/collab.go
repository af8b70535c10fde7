package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/behzadon/gather/internal/domain"
)

type eventRow struct {
	ID       uuid.UUID    `db:"id"`
	Title    string       `db:"title"`
	StartsAt sql.NullTime `db:"starts_at"`
	EndsAt   sql.NullTime `db:"ends_at"`
	Timezone string       `db:"timezone"`
}

// GetEvent reads the owning event from the shared events table.
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	var row eventRow
	query := `SELECT id, title, starts_at, ends_at, timezone FROM events WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.conn(ctx), &row, query, id); err != nil {
		return nil, translate("get event", err)
	}
	return &domain.Event{
		ID:       row.ID,
		Title:    row.Title,
		StartsAt: timePtr(row.StartsAt),
		EndsAt:   timePtr(row.EndsAt),
		Timezone: row.Timezone,
	}, nil
}

func (r *Repository) UpdateEventSchedule(ctx context.Context, id uuid.UUID, startsAt time.Time, endsAt *time.Time) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE events SET starts_at = $2, ends_at = $3, updated_at = NOW() WHERE id = $1`,
		id, startsAt, nullTime(endsAt),
	)
	if err != nil {
		return translate("update event schedule", err)
	}
	return expectOne("update event schedule", res)
}

// MemberRole returns RoleNone for users that are not members of the event.
func (r *Repository) MemberRole(ctx context.Context, eventID, userID uuid.UUID) (domain.Role, error) {
	var role string
	query := `SELECT role FROM event_members WHERE event_id = $1 AND user_id = $2`
	err := sqlx.GetContext(ctx, r.conn(ctx), &role, query, eventID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, translate("member role", err)
	}
	return domain.Role(role), nil
}
