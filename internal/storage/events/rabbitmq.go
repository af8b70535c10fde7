package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
)

const NotificationQueue = "gather_notifications"

// routing keys are the event types, so one pattern per event family.
var notificationBindings = []string{"poll.*", "option.*", "vote.*", "ballot.*"}

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Exchange string
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func cleanup(ch *amqp.Channel, conn *amqp.Connection, logger *zap.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}
}

// declareTopology declares the topic exchange and the notification queue.
func declareTopology(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		NotificationQueue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", NotificationQueue, err)
	}

	for _, key := range notificationBindings {
		if err := ch.QueueBind(NotificationQueue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", NotificationQueue, key, err)
		}
	}
	return nil
}

func NewRabbitMQPublisher(cfg RabbitMQConfig, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		cleanup(nil, conn, logger)
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg.Exchange); err != nil {
		cleanup(ch, conn, logger)
		return nil, err
	}

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	var errs []error

	if err := p.channel.Close(); err != nil {
		p.logger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	if err := p.conn.Close(); err != nil {
		p.logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %v", errs)
	}
	return nil
}

// Publish sends the event to the exchange with the event type as routing key.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event domain.PollEvent) error {
	body, err := json.Marshal(envelope{
		Type:      event.Type,
		Timestamp: event.OccurredAt.Format(time.RFC3339),
		Data:      event,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	routingKey := string(event.Type)
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish message to RabbitMQ",
			zap.Error(err),
			zap.String("event_type", routingKey),
			zap.String("poll_id", event.PollID.String()),
		)
		return fmt.Errorf("publish message: %w", err)
	}

	return nil
}
