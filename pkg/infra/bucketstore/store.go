package bucketstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	metrics "github.com/ArchiveLabs/ArchiveGate/pkg/infra/prometheus"
	"github.com/go-redis/redis/v8"
)

type Strategy string

const (
	StrategyScript Strategy = "script"
	StrategyCAS    Strategy = "cas"

	PoolFailOpen   = "fail_open"
	PoolFailClosed = "fail_closed"
)

type Store interface {
	// TryConsume debits one token from the bucket at key. A nil error with
	// Allowed=false means the bucket is empty; any error means the backend
	// could not answer and wraps ratelimit.ErrBackendUnavailable.
	TryConsume(ctx context.Context, key ratelimit.BucketKey, spec ratelimit.Spec) (ratelimit.ConsumeResult, error)
}

type consumer interface {
	consume(ctx context.Context, key ratelimit.BucketKey, p bucketParams) (ratelimit.ConsumeResult, error)
}

type Options struct {
	Name          string
	Timeout       time.Duration
	Strategy      Strategy
	CASMaxRetries int
	// ExpiryJitter bounds the random extra idle expiry added to each bucket
	// so buckets created together do not expire together.
	ExpiryJitter time.Duration
	Breaker      CircuitBreaker
	TimeProvider func() time.Time
	// JitterProvider returns a duration in [0, max).
	JitterProvider func(max time.Duration) time.Duration
}

type redisStore struct {
	name         string
	timeout      time.Duration
	consumer     consumer
	breaker      CircuitBreaker
	expiryJitter time.Duration
	timeProvider func() time.Time
	jitter       func(max time.Duration) time.Duration
}

func NewStore(client *redis.Client, opts Options) (Store, error) {
	var c consumer
	switch opts.Strategy {
	case StrategyScript, "":
		c = &scriptConsumer{client: client}
	case StrategyCAS:
		retries := opts.CASMaxRetries
		if retries <= 0 {
			retries = DefaultCASMaxRetries
		}
		c = &casConsumer{client: client, maxRetries: retries}
	default:
		return nil, fmt.Errorf("unknown bucket store strategy %q", opts.Strategy)
	}

	s := &redisStore{
		name:         opts.Name,
		timeout:      opts.Timeout,
		consumer:     c,
		breaker:      opts.Breaker,
		expiryJitter: opts.ExpiryJitter,
		timeProvider: opts.TimeProvider,
		jitter:       opts.JitterProvider,
	}
	if s.breaker == nil {
		s.breaker = passthroughBreaker{}
	}
	if s.timeProvider == nil {
		s.timeProvider = time.Now
	}
	if s.jitter == nil {
		s.jitter = randomJitter
	}
	return s, nil
}

func (s *redisStore) TryConsume(ctx context.Context, key ratelimit.BucketKey, spec ratelimit.Spec) (ratelimit.ConsumeResult, error) {
	// The consume is not aborted when the caller goes away: a stray debit is
	// harmless, an interrupted one leaves the outcome unknown.
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	params := newBucketParams(spec, s.timeProvider(), s.jitter(s.expiryJitter))

	start := time.Now()
	var result ratelimit.ConsumeResult
	err := s.breaker.Execute(func() error {
		r, err := s.consumer.consume(ctx, key, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	metrics.ObserveStoreCall(s.name, err == nil, time.Since(start))
	if err != nil {
		return ratelimit.ConsumeResult{}, fmt.Errorf("%w (%s pool): %w", ratelimit.ErrBackendUnavailable, s.name, err)
	}
	return result, nil
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Pools pairs the two stores by the failure policy they serve. Both talk to
// the same Redis; only their timeouts and breakers differ.
type Pools struct {
	FailOpen   Store
	FailClosed Store
}

func (p Pools) For(policy ratelimit.FailurePolicy) Store {
	if policy == ratelimit.FailClosed {
		return p.FailClosed
	}
	return p.FailOpen
}
