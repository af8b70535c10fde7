package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
)

// FanoutPublisher delivers every event to each sink, retrying a failing sink
// a bounded number of times. One sink failing does not stop the others.
type FanoutPublisher struct {
	sinks    []Publisher
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

func NewFanoutPublisher(logger *zap.Logger, attempts uint, delay time.Duration, sinks ...Publisher) *FanoutPublisher {
	if attempts == 0 {
		attempts = 1
	}
	return &FanoutPublisher{
		sinks:    sinks,
		attempts: attempts,
		delay:    delay,
		logger:   logger,
	}
}

func (f *FanoutPublisher) Publish(ctx context.Context, event domain.PollEvent) error {
	var errs []error
	for i, sink := range f.sinks {
		err := retry.Do(func() error {
			return sink.Publish(ctx, event)
		},
			retry.Context(ctx),
			retry.Attempts(f.attempts),
			retry.Delay(f.delay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				f.logger.Warn("retrying event publish",
					zap.Int("sink", i),
					zap.Uint("attempt", n+1),
					zap.Uint("max_attempts", f.attempts),
					zap.String("type", string(event.Type)),
					zap.Error(err),
				)
			}),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutPublisher) Close() error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
