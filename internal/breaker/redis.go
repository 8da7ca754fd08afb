package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL bounds how long an idle job's breaker state is kept.
const keyTTL = 7 * 24 * time.Hour

// Redis is a Breaker shared by every worker that talks to the same Redis.
type Redis struct {
	client    *redis.Client
	threshold int
	prefix    string
}

// NewRedis creates a Redis breaker. A threshold below 1 uses DefaultThreshold.
func NewRedis(client *redis.Client, threshold int) *Redis {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Redis{client: client, threshold: threshold, prefix: "seopatch:breaker:"}
}

var _ Breaker = (*Redis)(nil)

func (r *Redis) failuresKey(jobID string) string { return r.prefix + jobID + ":failures" }
func (r *Redis) trippedKey(jobID string) string { return r.prefix + jobID + ":tripped" }

func (r *Redis) Tripped(ctx context.Context, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.trippedKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("breaker state for %s: %w", jobID, err)
	}
	return n > 0, nil
}

func (r *Redis) RecordFailure(ctx context.Context, jobID string) (bool, error) {
	key := r.failuresKey(jobID)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("record failure for %s: %w", jobID, err)
	}
	r.client.Expire(ctx, key, keyTTL)
	if n < int64(r.threshold) {
		return false, nil
	}
	// SETNX makes exactly one worker observe the trip.
	set, err := r.client.SetNX(ctx, r.trippedKey(jobID), n, keyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("trip breaker for %s: %w", jobID, err)
	}
	return set, nil
}

func (r *Redis) RecordSuccess(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, r.failuresKey(jobID)).Err(); err != nil {
		return fmt.Errorf("record success for %s: %w", jobID, err)
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, r.failuresKey(jobID), r.trippedKey(jobID)).Err(); err != nil {
		return fmt.Errorf("reset breaker for %s: %w", jobID, err)
	}
	return nil
}

func (r *Redis) Status(ctx context.Context, jobID string) (Status, error) {
	st := Status{JobID: jobID, Threshold: r.threshold}
	n, err := r.client.Get(ctx, r.failuresKey(jobID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return st, fmt.Errorf("breaker status for %s: %w", jobID, err)
	}
	st.Failures = n
	if st.Tripped, err = r.Tripped(ctx, jobID); err != nil {
		return st, err
	}
	return st, nil
}
