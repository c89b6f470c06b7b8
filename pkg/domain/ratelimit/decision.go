package ratelimit

import (
	"math"
	"time"
)

// RemainingUnknown is reported when no spec produced a token count, e.g. a
// fail-open decision taken while the backend was unreachable.
const RemainingUnknown int64 = -1

type ConsumeResult struct {
	Allowed       bool
	Remaining     int64
	WaitForRefill time.Duration
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int64
	// Degraded is set when at least one spec was decided by its failure
	// policy instead of by the bucket.
	Degraded bool
}

func Allow(remaining int64) Decision {
	return Decision{Allowed: true, Remaining: remaining}
}

func Reject(retryAfter time.Duration) Decision {
	return Decision{Allowed: false, RetryAfter: RoundRetryAfter(retryAfter), Remaining: 0}
}

func (d Decision) RetryAfterSeconds() int {
	return RetryAfterSeconds(d.RetryAfter)
}

// RoundRetryAfter rounds a wait up to whole seconds, with a one second floor.
func RoundRetryAfter(wait time.Duration) time.Duration {
	return time.Duration(RetryAfterSeconds(wait)) * time.Second
}

func RetryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
