package bucketstore

import (
	"math"
	"strconv"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
)

const (
	fieldTokens = "tokens"
	fieldTS     = "ts"
)

// bucketParams is one consume request expressed in the units stored in
// Redis: microseconds for time, float tokens.
type bucketParams struct {
	capacity     float64
	refillTokens float64
	periodMicros float64
	nowMicros    int64
	ttl          time.Duration
}

// minExpiry keeps PEXPIRE positive; Redis deletes a key given a zero or
// negative expiry.
const minExpiry = time.Millisecond

func newBucketParams(spec ratelimit.Spec, now time.Time, jitter time.Duration) bucketParams {
	ttl := spec.TimeToFull() + jitter
	if ttl < minExpiry {
		ttl = minExpiry
	}
	return bucketParams{
		capacity:     float64(spec.Capacity),
		refillTokens: float64(spec.RefillTokens),
		periodMicros: float64(spec.RefillPeriodSeconds) * float64(time.Second/time.Microsecond),
		nowMicros:    now.UnixMicro(),
		ttl:          ttl,
	}
}

func (p bucketParams) args() []interface{} {
	return []interface{}{
		formatFloat(p.capacity),
		formatFloat(p.refillTokens),
		formatFloat(p.periodMicros),
		strconv.FormatInt(p.nowMicros, 10),
		strconv.FormatInt(p.ttl.Milliseconds(), 10),
	}
}

type bucketState struct {
	tokens float64
	ts     int64
}

// refill applies lazy refill up to now. A bucket seen for the first time
// starts full. Time never moves backwards for a bucket, so a caller with a
// lagging clock neither adds nor removes tokens.
func (p bucketParams) refill(state *bucketState) bucketState {
	if state == nil {
		return bucketState{tokens: p.capacity, ts: p.nowMicros}
	}
	s := *state
	if p.nowMicros > s.ts {
		elapsed := float64(p.nowMicros - s.ts)
		s.tokens = math.Min(p.capacity, s.tokens+elapsed*p.refillTokens/p.periodMicros)
		s.ts = p.nowMicros
	}
	return s
}

// waitFor is the time until the bucket holds one whole token.
func (p bucketParams) waitFor(tokens float64) time.Duration {
	if tokens >= 1 {
		return 0
	}
	micros := math.Ceil((1 - tokens) * p.periodMicros / p.refillTokens)
	return time.Duration(micros) * time.Microsecond
}

func parseState(values []interface{}) (*bucketState, error) {
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return nil, nil
	}
	tokens, err := parseFloat(values[0])
	if err != nil {
		return nil, err
	}
	ts, err := parseFloat(values[1])
	if err != nil {
		return nil, err
	}
	return &bucketState{tokens: tokens, ts: int64(ts)}, nil
}

func remaining(tokens float64) int64 {
	if tokens < 0 {
		return 0
	}
	return int64(math.Floor(tokens))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, strconv.ErrSyntax
	}
}
