package bucketstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	metrics "github.com/ArchiveLabs/ArchiveGate/pkg/infra/prometheus"
	"github.com/go-redis/redis/v8"
)

const DefaultCASMaxRetries = 16

// casConsumer is the optimistic variant: WATCH the bucket, compute the new
// state locally and commit with MULTI/EXEC. A concurrent writer aborts the
// transaction and the cycle restarts from a fresh read.
type casConsumer struct {
	client     *redis.Client
	maxRetries int
}

func (c *casConsumer) consume(ctx context.Context, key ratelimit.BucketKey, p bucketParams) (ratelimit.ConsumeResult, error) {
	var last bucketState
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		result, state, err := c.attempt(ctx, key.String(), p)
		if errors.Is(err, redis.TxFailedErr) {
			last = state
			continue
		}
		if err != nil {
			return ratelimit.ConsumeResult{}, err
		}
		return result, nil
	}
	// Contention is not a backend failure: deny from the last state read.
	metrics.RateLimitCASRetriesExhausted.Inc()
	return ratelimit.ConsumeResult{
		Allowed:       false,
		Remaining:     0,
		WaitForRefill: p.waitFor(last.tokens),
	}, nil
}

// attempt runs one WATCH cycle and also returns the refilled state it
// computed, before any debit.
func (c *casConsumer) attempt(ctx context.Context, key string, p bucketParams) (ratelimit.ConsumeResult, bucketState, error) {
	var result ratelimit.ConsumeResult
	var observed bucketState
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.HMGet(ctx, key, fieldTokens, fieldTS).Result()
		if err != nil {
			return err
		}
		current, err := parseState(values)
		if err != nil {
			return fmt.Errorf("corrupt bucket %s: %w", key, err)
		}

		next := p.refill(current)
		observed = next
		if next.tokens < 1 {
			// Nothing is written on denial.
			result = ratelimit.ConsumeResult{
				Allowed:       false,
				Remaining:     0,
				WaitForRefill: p.waitFor(next.tokens),
			}
			return nil
		}
		next.tokens--

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldTokens, formatFloat(next.tokens),
				fieldTS, strconv.FormatInt(next.ts, 10),
			)
			pipe.PExpire(ctx, key, p.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = ratelimit.ConsumeResult{Allowed: true, Remaining: remaining(next.tokens)}
		return nil
	}, key)
	return result, observed, err
}
