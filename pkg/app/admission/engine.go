package admission

import (
	"context"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/app/identity"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/bucketstore"
	metrics "github.com/ArchiveLabs/ArchiveGate/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
)

const DefaultFailClosedRetryAfter = 5 * time.Second

type Engine interface {
	// Decide evaluates every spec of op in order and returns the combined
	// decision. The error is non-nil only for a *ratelimit.MisconfigurationError.
	Decide(ctx context.Context, op ratelimit.Operation, req identity.Request) (ratelimit.Decision, error)
	// Admit is Decide for callers that only care about pass or fail: a
	// denial comes back as a *ratelimit.RejectedError.
	Admit(ctx context.Context, op ratelimit.Operation, req identity.Request) (ratelimit.Decision, error)
}

type Config struct {
	Keys                 ratelimit.KeyFormat
	FailClosedRetryAfter time.Duration
}

type engine struct {
	resolver             identity.Resolver
	pools                bucketstore.Pools
	keys                 ratelimit.KeyFormat
	failClosedRetryAfter time.Duration
	throttle             *DegradedLogThrottle
	logger               *logrus.Logger
}

func NewEngine(
	logger *logrus.Logger,
	resolver identity.Resolver,
	pools bucketstore.Pools,
	throttle *DegradedLogThrottle,
	cfg Config,
) Engine {
	if cfg.FailClosedRetryAfter <= 0 {
		cfg.FailClosedRetryAfter = DefaultFailClosedRetryAfter
	}
	if cfg.Keys.Namespace == "" {
		cfg.Keys.Namespace = ratelimit.DefaultNamespace
	}
	if throttle == nil {
		throttle = NewDegradedLogThrottle(DefaultDegradedLogInterval, DefaultDegradedLogBurst)
	}
	return &engine{
		resolver:             resolver,
		pools:                pools,
		keys:                 cfg.Keys,
		failClosedRetryAfter: cfg.FailClosedRetryAfter,
		throttle:             throttle,
		logger:               logger,
	}
}

func (e *engine) Admit(ctx context.Context, op ratelimit.Operation, req identity.Request) (ratelimit.Decision, error) {
	decision, err := e.Decide(ctx, op, req)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		prefix := ""
		if len(op.Specs) > 0 {
			prefix = op.Specs[0].KeyPrefix
		}
		return decision, &ratelimit.RejectedError{
			Operation:  op.Name,
			KeyPrefix:  prefix,
			RetryAfter: decision.RetryAfter,
		}
	}
	return decision, nil
}

func (e *engine) Decide(ctx context.Context, op ratelimit.Operation, req identity.Request) (ratelimit.Decision, error) {
	// Identities are resolved up front so an unresolvable spec never leaves
	// earlier buckets debited.
	identities := make([]ratelimit.ResolvedIdentity, len(op.Specs))
	for i, spec := range op.Specs {
		id, err := e.resolver.Resolve(spec.Identity, req)
		if err != nil {
			metrics.RecordDecision(op.Name, metrics.OutcomeMisconfigured)
			e.logger.WithError(err).WithFields(logrus.Fields{
				"operation":  op.Name,
				"key_prefix": spec.KeyPrefix,
				"policy":     spec.Identity,
			}).Error("rate limit spec cannot be evaluated")
			return ratelimit.Decision{}, &ratelimit.MisconfigurationError{
				Operation: op.Name,
				KeyPrefix: spec.KeyPrefix,
				Policy:    spec.Identity,
				Err:       err,
			}
		}
		identities[i] = id
	}

	remaining := ratelimit.RemainingUnknown
	degraded := false
	for i, spec := range op.Specs {
		key := e.keys.Build(spec.KeyPrefix, identities[i])
		policy := spec.FailurePolicy()

		result, err := e.pools.For(policy).TryConsume(ctx, key, spec)
		if err != nil {
			e.logDegraded(op, key, policy, err)
			if policy == ratelimit.FailClosed {
				metrics.RecordDecision(op.Name, metrics.OutcomeDegradedClosed)
				decision := ratelimit.Reject(e.failClosedRetryAfter)
				decision.Degraded = true
				return decision, nil
			}
			degraded = true
			continue
		}

		if !result.Allowed {
			metrics.RecordDecision(op.Name, metrics.OutcomeRejected)
			e.logger.WithFields(logrus.Fields{
				"operation":   op.Name,
				"key":         key.String(),
				"retry_after": ratelimit.RetryAfterSeconds(result.WaitForRefill),
			}).Debug("rate limit exceeded")
			decision := ratelimit.Reject(result.WaitForRefill)
			decision.Degraded = degraded
			return decision, nil
		}

		if remaining == ratelimit.RemainingUnknown || result.Remaining < remaining {
			remaining = result.Remaining
		}
	}

	if degraded {
		metrics.RecordDecision(op.Name, metrics.OutcomeDegradedOpen)
	} else {
		metrics.RecordDecision(op.Name, metrics.OutcomeAllowed)
	}
	decision := ratelimit.Allow(remaining)
	decision.Degraded = degraded
	return decision, nil
}

func (e *engine) logDegraded(op ratelimit.Operation, key ratelimit.BucketKey, policy ratelimit.FailurePolicy, err error) {
	if !e.throttle.Allow(key.String()) {
		return
	}
	e.logger.WithError(err).WithFields(logrus.Fields{
		"operation": op.Name,
		"key":       key.String(),
		"policy":    policy,
	}).Warn("rate limit backend unavailable, applying failure policy")
}
