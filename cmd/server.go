package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/api"
	"github.com/behzadon/gather/internal/auth"
	"github.com/behzadon/gather/internal/config"
	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/logging"
	"github.com/behzadon/gather/internal/service"
	"github.com/behzadon/gather/internal/storage/cache"
	"github.com/behzadon/gather/internal/storage/events"
	"github.com/behzadon/gather/internal/storage/memory"
	"github.com/behzadon/gather/internal/storage/postgres"
)

// backend is a storage driver that also answers for the event and its members.
type backend interface {
	domain.Repository
	domain.EventDirectory
	domain.Membership
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gather API server",
	Long:  `Start the gather API server with the specified configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg := GetConfig()

		zapLogger, err := logging.NewZap(cfg.Server.Env)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		if !cfg.Server.Development() {
			gin.SetMode(gin.ReleaseMode)
		}

		store, closeStore, err := openBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer closeQuietly(logger, "storage", closeStore)

		var (
			sinks       []events.Publisher
			opts        []service.Option
			rateLimiter api.RedisClient
		)
		opts = append(opts, service.WithConflictAttempts(cfg.Polling.ConflictAttempts))

		if cfg.Redis.Enabled {
			redisClient, err := connectRedis(ctx, cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer closeQuietly(logger, "redis", redisClient)
			logger.Info("Successfully connected to Redis", zap.String("addr", cfg.Redis.Addr()))

			opts = append(opts, service.WithTallyCache(cache.NewRedisCache(redisClient, cfg.Polling.TallyCacheTTL)))
			sinks = append(sinks, events.NewRedisPublisher(redisClient, zapLogger))
			rateLimiter = redisClient
		} else {
			logger.Warn("Redis is disabled: tallies are not cached and requests are not rate limited")
		}

		if cfg.RabbitMQ.Enabled {
			publisher, err := events.NewRabbitMQPublisher(rabbitConfig(cfg.RabbitMQ), zapLogger)
			if err != nil {
				return fmt.Errorf("create RabbitMQ publisher: %w", err)
			}
			sinks = append(sinks, publisher)
		}

		publisher := events.NewFanoutPublisher(zapLogger, cfg.Polling.PublishRetries, cfg.Polling.PublishDelay, sinks...)
		defer closeQuietly(logger, "event publishers", publisher)

		svc := service.NewService(store, store, store, publisher, zapLogger, opts...)

		jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.TokenDuration)
		handler := api.NewHandler(svc, rateLimiter, api.RateLimitConfig{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
			Burst:  cfg.RateLimit.Burst,
		}, zapLogger)

		engine := gin.New()
		engine.Use(gin.Recovery())
		engine.Use(logger.GinLogger())
		handler.RegisterRoutes(engine, jwtManager)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("Starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("storage", cfg.Storage.Driver),
			)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Failed to start server", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", err)
			return fmt.Errorf("server shutdown: %w", err)
		}

		logger.Info("Server exited properly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func closeQuietly(logger *logging.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("Failed to close "+what, err)
	}
}

// openBackend selects the storage driver. The memory driver seeds one demo
// event so the API is usable without a database.
func openBackend(cfg *config.Config, logger *logging.Logger) (backend, io.Closer, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		store := memory.NewStore()
		seedDemoEvent(store, logger)
		return store, closerFunc(func() error { return nil }), nil
	}

	db, err := postgres.Connect(cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if cfg.Migration.AutoMigrate {
		logger.Info("Auto-migration is enabled, running migrations...")
		if err := runMigrations(db.DB, cfg.Migration.Dir, "up", logger.Zap()); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("Migrations completed successfully")
	} else {
		logger.Info("Auto-migration is disabled, skipping migrations")
	}

	return postgres.NewRepository(db, logger.Zap()), db, nil
}

func seedDemoEvent(store *memory.Store, logger *logging.Logger) {
	ctx := context.Background()
	starts := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Hour)
	event := &domain.Event{
		ID:       uuid.New(),
		Title:    "Demo event",
		StartsAt: &starts,
		Timezone: "UTC",
	}
	organizer := uuid.New()
	store.PutEvent(ctx, event)
	store.SetRole(ctx, event.ID, organizer, domain.RoleOrganizer)

	logger.Info("Seeded in-memory demo event",
		zap.String("event_id", event.ID.String()),
		zap.String("organizer_id", organizer.String()),
	)
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func rabbitConfig(cfg config.RabbitMQConfig) events.RabbitMQConfig {
	return events.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		VHost:    cfg.VHost,
		Exchange: cfg.Exchange,
	}
}
