package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
)

// EventHandler receives decoded poll events grouped by what a recipient
// needs to be told.
type EventHandler interface {
	HandlePhaseChanged(ctx context.Context, event domain.PollEvent, change domain.PhaseChange) error
	HandlePollFinalized(ctx context.Context, event domain.PollEvent, result domain.Finalization) error
	HandleManualResolution(ctx context.Context, event domain.PollEvent, result domain.Finalization) error
	HandlePollActivity(ctx context.Context, event domain.PollEvent) error
}

type RabbitMQConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	handler   EventHandler
	logger    *zap.Logger
	queueName string
}

func NewRabbitMQConsumer(cfg RabbitMQConfig, handler EventHandler, logger *zap.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		cleanup(nil, conn, logger)
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.Qos(
		1,
		0,
		false,
	)
	if err != nil {
		cleanup(ch, conn, logger)
		return nil, fmt.Errorf("set QoS: %w", err)
	}

	if err := declareTopology(ch, cfg.Exchange); err != nil {
		cleanup(ch, conn, logger)
		return nil, err
	}

	return &RabbitMQConsumer{
		conn:      conn,
		channel:   ch,
		handler:   handler,
		logger:    logger,
		queueName: NotificationQueue,
	}, nil
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Error("Consumer channel closed")
					return
				}

				if err := Dispatch(ctx, c.handler, msg.Body); err != nil {
					c.logger.Error("Failed to handle message",
						zap.Error(err),
						zap.String("routing_key", msg.RoutingKey),
					)
					// decode failures are dropped, handler failures requeued
					if err := msg.Nack(false, !isDecodeError(err)); err != nil {
						c.logger.Error("Failed to nack message", zap.Error(err))
					}
					continue
				}

				if err := msg.Ack(false); err != nil {
					c.logger.Error("Failed to ack message", zap.Error(err))
				}
			}
		}
	}()

	return nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	_, ok := err.(*decodeError)
	return ok
}

// wireEvent mirrors domain.PollEvent with the payload left undecoded.
type wireEvent struct {
	domain.PollEvent
	Data json.RawMessage `json:"data,omitempty"`
}

// Dispatch decodes one broker message and routes it to the handler.
func Dispatch(ctx context.Context, handler EventHandler, body []byte) error {
	var msg struct {
		Type      domain.EventType `json:"type"`
		Timestamp string           `json:"timestamp"`
		Data      wireEvent        `json:"data"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return &decodeError{fmt.Errorf("unmarshal event: %w", err)}
	}

	event := msg.Data.PollEvent
	event.Type = msg.Type
	event.Data = msg.Data.Data

	switch msg.Type {
	case domain.EventPollVotingStarted, domain.EventPollSuggestionsDisabled, domain.EventPollVotingEnded:
		var change domain.PhaseChange
		if err := decodePayload(msg.Data.Data, &change); err != nil {
			return err
		}
		return handler.HandlePhaseChanged(ctx, event, change)

	case domain.EventPollFinalized, domain.EventPollManualResolution:
		var result domain.Finalization
		if err := decodePayload(msg.Data.Data, &result); err != nil {
			return err
		}
		if msg.Type == domain.EventPollFinalized {
			return handler.HandlePollFinalized(ctx, event, result)
		}
		return handler.HandleManualResolution(ctx, event, result)

	case domain.EventPollCreated, domain.EventPollDeleted, domain.EventPollDeadlineChanged,
		domain.EventOptionCreated, domain.EventOptionUpdated, domain.EventOptionsReordered,
		domain.EventVoteCast, domain.EventVoteRetracted, domain.EventBallotCleared, domain.EventOptionVotesCleared:
		return handler.HandlePollActivity(ctx, event)

	default:
		return &decodeError{fmt.Errorf("unknown event type: %s", msg.Type)}
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &decodeError{fmt.Errorf("unmarshal payload: %w", err)}
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	var errs []error

	if err := c.channel.Close(); err != nil {
		c.logger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %v", errs)
	}
	return nil
}
