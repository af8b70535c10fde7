package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/behzadon/gather/internal/domain"
	"github.com/behzadon/gather/internal/metrics"
)

const DefaultTallyTTL = 10 * time.Minute

// RedisCache keeps computed poll results. Entries are dropped on every
// mutation that could change a tally, and the TTL bounds staleness when an
// invalidation is lost.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTallyTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func pollResultsKey(id uuid.UUID) string {
	return fmt.Sprintf("poll:tally:%s", id.String())
}

// GetPollResults returns nil without error on a miss.
func (c *RedisCache) GetPollResults(ctx context.Context, pollID uuid.UUID) (*domain.PollResults, error) {
	data, err := c.client.Get(ctx, pollResultsKey(pollID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheOperation("get_poll_results", false)
			return nil, nil
		}
		return nil, fmt.Errorf("get poll results from cache: %w", err)
	}

	var results domain.PollResults
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("unmarshal poll results: %w", err)
	}

	metrics.RecordCacheOperation("get_poll_results", true)
	return &results, nil
}

func (c *RedisCache) SetPollResults(ctx context.Context, results *domain.PollResults) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal poll results: %w", err)
	}

	if err := c.client.Set(ctx, pollResultsKey(results.PollID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set poll results in cache: %w", err)
	}

	metrics.RecordCacheOperation("set_poll_results", true)
	return nil
}

func (c *RedisCache) InvalidatePollResults(ctx context.Context, pollID uuid.UUID) error {
	if err := c.client.Del(ctx, pollResultsKey(pollID)).Err(); err != nil {
		return fmt.Errorf("invalidate poll results: %w", err)
	}
	return nil
}
