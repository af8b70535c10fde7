package events

import (
	"context"

	"github.com/behzadon/gather/internal/domain"
)

// Publisher delivers poll events after the originating transaction commits.
type Publisher interface {
	Publish(ctx context.Context, event domain.PollEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.PollEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }

// envelope is the wire shape shared by the broker publisher and consumer.
type envelope struct {
	Type      domain.EventType `json:"type"`
	Timestamp string           `json:"timestamp"`
	Data      domain.PollEvent `json:"data"`
}
