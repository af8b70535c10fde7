package notification

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	Logger *zap.Logger
}

func (s *LogNotifier) SendNotification(_ context.Context, n Notification) error {
	s.Logger.Info("Notification",
		zap.String("kind", string(n.Kind)),
		zap.String("audience", string(n.Audience)),
		zap.String("event_id", n.EventID),
		zap.String("poll_id", n.PollID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
	return nil
}
