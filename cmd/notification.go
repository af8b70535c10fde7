package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/logging"
	"github.com/behzadon/gather/internal/notification"
	"github.com/behzadon/gather/internal/storage/events"
)

var notificationConsumerCmd = &cobra.Command{
	Use:   "notification-consumer",
	Short: "Start the notification consumer",
	Long:  `Start the notification consumer that turns poll lifecycle events into participant and organizer notifications.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cfg := GetConfig()

		if !cfg.RabbitMQ.Enabled {
			return fmt.Errorf("notification consumer requires rabbitmq.enabled")
		}

		zapLogger, err := logging.NewZap(cfg.Server.Env)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		notifier := &notification.LogNotifier{Logger: zapLogger}
		handler := notification.NewNotificationHandler(notifier, zapLogger)

		consumer, err := events.NewRabbitMQConsumer(rabbitConfig(cfg.RabbitMQ), handler, zapLogger)
		if err != nil {
			return fmt.Errorf("create RabbitMQ consumer: %w", err)
		}
		defer closeQuietly(logger, "RabbitMQ consumer", consumer)

		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}

		logger.Info("Notification consumer started",
			zap.String("exchange", cfg.RabbitMQ.Exchange),
			zap.String("queue", events.NotificationQueue),
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down notification consumer...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notificationConsumerCmd)
}
