package bucketstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/go-redis/redis/v8"
)

//go:embed token_bucket.lua
var tokenBucketSource string

var tokenBucketScript = redis.NewScript(tokenBucketSource)

var errInvalidScriptReply = errors.New("invalid token bucket script reply")

// scriptConsumer runs the whole read-refill-debit-write cycle inside Redis,
// which executes scripts atomically.
type scriptConsumer struct {
	client *redis.Client
}

func (c *scriptConsumer) consume(ctx context.Context, key ratelimit.BucketKey, p bucketParams) (ratelimit.ConsumeResult, error) {
	values, err := tokenBucketScript.Run(ctx, c.client, []string{key.String()}, p.args()...).Slice()
	if err != nil {
		return ratelimit.ConsumeResult{}, err
	}
	if len(values) != 3 {
		return ratelimit.ConsumeResult{}, fmt.Errorf("%w: %d values", errInvalidScriptReply, len(values))
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return ratelimit.ConsumeResult{}, fmt.Errorf("%w: allowed flag %v", errInvalidScriptReply, values[0])
	}
	tokens, err := parseFloat(values[1])
	if err != nil {
		return ratelimit.ConsumeResult{}, fmt.Errorf("%w: tokens %v", errInvalidScriptReply, values[1])
	}
	waitMicros, ok := values[2].(int64)
	if !ok {
		return ratelimit.ConsumeResult{}, fmt.Errorf("%w: wait %v", errInvalidScriptReply, values[2])
	}
	return ratelimit.ConsumeResult{
		Allowed:       allowed == 1,
		Remaining:     remaining(tokens),
		WaitForRefill: time.Duration(waitMicros) * time.Microsecond,
	}, nil
}
