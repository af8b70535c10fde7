package memory

import (
	"context"
	"time"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

// PutEvent registers or replaces an event.
func (s *Store) PutEvent(ctx context.Context, event *domain.Event) {
	defer s.lock(ctx)()
	s.data.events[event.ID] = copyEvent(*event)
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	defer s.lock(ctx)()
	e, ok := s.data.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := copyEvent(e)
	return &c, nil
}

func (s *Store) UpdateEventSchedule(ctx context.Context, id uuid.UUID, startsAt time.Time, endsAt *time.Time) error {
	defer s.lock(ctx)()
	e, ok := s.data.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.StartsAt = &startsAt
	e.EndsAt = copyTime(endsAt)
	s.data.events[id] = e
	return nil
}

// SetRole grants a role on an event; RoleNone revokes it.
func (s *Store) SetRole(ctx context.Context, eventID, userID uuid.UUID, role domain.Role) {
	defer s.lock(ctx)()
	key := memberKey{eventID, userID}
	if role == domain.RoleNone {
		delete(s.members, key)
		return
	}
	s.members[key] = role
}

func (s *Store) MemberRole(ctx context.Context, eventID, userID uuid.UUID) (domain.Role, error) {
	defer s.lock(ctx)()
	return s.members[memberKey{eventID, userID}], nil
}
