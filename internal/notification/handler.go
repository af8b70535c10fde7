package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/storage/events"
)

// Audience selects which members of the event receive a notification.
type Audience string

const (
	AudienceParticipants Audience = "participants"
	AudienceOrganizers   Audience = "organizers"
)

type Notification struct {
	EventID  string
	PollID   string
	Kind     domain.EventType
	Audience Audience
	Title    string
	Message  string
}

type NotificationService interface {
	SendNotification(ctx context.Context, n Notification) error
}

type NotificationHandler struct {
	notificationService NotificationService
	logger              *zap.Logger
}

func NewNotificationHandler(notificationService NotificationService, logger *zap.Logger) events.EventHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		logger:              logger,
	}
}

func newNotification(event domain.PollEvent, audience Audience, title, message string) Notification {
	return Notification{
		EventID:  event.EventID.String(),
		PollID:   event.PollID.String(),
		Kind:     event.Type,
		Audience: audience,
		Title:    title,
		Message:  message,
	}
}

func (h *NotificationHandler) HandlePhaseChanged(ctx context.Context, event domain.PollEvent, change domain.PhaseChange) error {
	var n Notification
	switch change.To {
	case domain.PhaseVotingWithSuggestions:
		n = newNotification(event, AudienceParticipants, "Voting is open",
			"Cast your votes and keep the suggestions coming.")
	case domain.PhaseVotingOnly:
		msg := "Voting is open."
		if change.From == domain.PhaseVotingWithSuggestions {
			msg = "Suggestions are closed. Voting continues on the current options."
		}
		n = newNotification(event, AudienceParticipants, "Voting is open", msg)
	case domain.PhaseClosed:
		n = newNotification(event, AudienceOrganizers, "Poll closed without a result",
			"Voting has ended. Pick a winner to finish the poll.")
	default:
		h.logger.Debug("Ignoring phase change",
			zap.String("poll_id", event.PollID.String()),
			zap.String("to", string(change.To)),
		)
		return nil
	}
	return h.send(ctx, n)
}

func (h *NotificationHandler) HandlePollFinalized(ctx context.Context, event domain.PollEvent, result domain.Finalization) error {
	if result.ManualResolution {
		// the organizers get the manual resolution notice instead
		return nil
	}
	msg := "The poll has a winner."
	switch {
	case len(result.OptionIDs) > 1:
		msg = fmt.Sprintf("%d options tied and share the win.", len(result.OptionIDs))
	case result.EventStartsAt != nil:
		msg = "The event is now scheduled for " + result.EventStartsAt.UTC().Format("Monday, January 2, 2006 at 15:04 MST") + "."
	}
	return h.send(ctx, newNotification(event, AudienceParticipants, "Poll finalized", msg))
}

func (h *NotificationHandler) HandleManualResolution(ctx context.Context, event domain.PollEvent, result domain.Finalization) error {
	ids := make([]string, len(result.OptionIDs))
	for i, id := range result.OptionIDs {
		ids[i] = id.String()
	}
	msg := fmt.Sprintf("%d options tied: %s. Choose the date manually.", len(ids), strings.Join(ids, ", "))
	return h.send(ctx, newNotification(event, AudienceOrganizers, "Manual resolution needed", msg))
}

func (h *NotificationHandler) HandlePollActivity(_ context.Context, event domain.PollEvent) error {
	h.logger.Debug("Poll activity",
		zap.String("type", string(event.Type)),
		zap.String("poll_id", event.PollID.String()),
		zap.String("actor_id", event.ActorID.String()),
	)
	return nil
}

func (h *NotificationHandler) send(ctx context.Context, n Notification) error {
	if err := h.notificationService.SendNotification(ctx, n); err != nil {
		return fmt.Errorf("send %s notification: %w", n.Kind, err)
	}
	return nil
}
