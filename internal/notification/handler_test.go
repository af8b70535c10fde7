package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/storage/events"
)

type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) SendNotification(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func message(t *testing.T, eventType domain.EventType, data interface{}) []byte {
	t.Helper()
	poll := &domain.Poll{ID: uuid.New(), EventID: uuid.New()}
	body, err := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      domain.NewPollEvent(eventType, poll, uuid.New(), data),
	})
	require.NoError(t, err)
	return body
}

func TestNotificationHandler(t *testing.T) {
	starts := time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		body       func(t *testing.T) []byte
		setupMocks func(m *MockNotificationService)
		wantErr    bool
	}{
		{
			name: "voting opened",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollVotingStarted, domain.PhaseChange{From: domain.PhaseBuilding, To: domain.PhaseVotingWithSuggestions})
			},
			setupMocks: func(m *MockNotificationService) {
				m.On("SendNotification", mock.Anything, mock.MatchedBy(func(n Notification) bool {
					return n.Audience == AudienceParticipants && n.Kind == domain.EventPollVotingStarted
				})).Return(nil).Once()
			},
		},
		{
			name: "closed without result goes to organizers",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollVotingEnded, domain.PhaseChange{From: domain.PhaseVotingOnly, To: domain.PhaseClosed})
			},
			setupMocks: func(m *MockNotificationService) {
				m.On("SendNotification", mock.Anything, mock.MatchedBy(func(n Notification) bool {
					return n.Audience == AudienceOrganizers
				})).Return(nil).Once()
			},
		},
		{
			name: "single winner announces schedule",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollFinalized, domain.Finalization{
					Strategy:      "highest_votes",
					OptionIDs:     []uuid.UUID{uuid.New()},
					EventStartsAt: &starts,
				})
			},
			setupMocks: func(m *MockNotificationService) {
				m.On("SendNotification", mock.Anything, mock.MatchedBy(func(n Notification) bool {
					return n.Audience == AudienceParticipants && n.Message == "The event is now scheduled for Friday, June 12, 2026 at 18:00 UTC."
				})).Return(nil).Once()
			},
		},
		{
			name: "tied date finalization leaves it to manual resolution",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollFinalized, domain.Finalization{
					OptionIDs:        []uuid.UUID{uuid.New(), uuid.New()},
					ManualResolution: true,
				})
			},
			setupMocks: func(m *MockNotificationService) {},
		},
		{
			name: "co-winners on venue poll notify participants",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollFinalized, domain.Finalization{
					Strategy:  "highest_votes",
					OptionIDs: []uuid.UUID{uuid.New(), uuid.New()},
				})
			},
			setupMocks: func(m *MockNotificationService) {
				m.On("SendNotification", mock.Anything, mock.MatchedBy(func(n Notification) bool {
					return n.Audience == AudienceParticipants && n.Kind == domain.EventPollFinalized &&
						n.Message == "2 options tied and share the win."
				})).Return(nil).Once()
			},
		},
		{
			name: "manual resolution",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollManualResolution, domain.Finalization{OptionIDs: []uuid.UUID{uuid.New(), uuid.New()}})
			},
			setupMocks: func(m *MockNotificationService) {
				m.On("SendNotification", mock.Anything, mock.MatchedBy(func(n Notification) bool {
					return n.Audience == AudienceOrganizers && n.Kind == domain.EventPollManualResolution
				})).Return(nil).Once()
			},
		},
		{
			name: "activity is not delivered",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventVoteCast, domain.VoteActivity{Removed: 0})
			},
			setupMocks: func(m *MockNotificationService) {},
		},
		{
			name: "delivery failure is returned",
			body: func(t *testing.T) []byte {
				return message(t, domain.EventPollSuggestionsDisabled, domain.PhaseChange{From: domain.PhaseVotingWithSuggestions, To: domain.PhaseVotingOnly})
			},
			setupMocks: func(m *MockNotificationService) {
				m.On("SendNotification", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockNotificationService)
			tt.setupMocks(svc)
			handler := NewNotificationHandler(svc, zap.NewNop())

			err := events.Dispatch(context.Background(), handler, tt.body(t))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestLogNotifier(t *testing.T) {
	n := &LogNotifier{Logger: zap.NewNop()}
	assert.NoError(t, n.SendNotification(context.Background(), Notification{Title: "x"}))
}
