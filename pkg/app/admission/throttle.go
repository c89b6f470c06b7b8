package admission

import (
	"context"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/cache"
	metrics "github.com/ArchiveLabs/ArchiveGate/pkg/infra/prometheus"
	"golang.org/x/time/rate"
)

const (
	DefaultDegradedLogInterval = 30 * time.Second
	DefaultDegradedLogBurst    = 10
)

// DegradedLogThrottle decides whether a backend degradation may be logged:
// at most once per interval for a given bucket key, and never more than
// burst lines per second across the process.
type DegradedLogThrottle struct {
	interval time.Duration
	seen     *cache.TTLMap
	global   *rate.Limiter
	now      func() time.Time
}

func NewDegradedLogThrottle(interval time.Duration, burst int) *DegradedLogThrottle {
	return newDegradedLogThrottle(interval, burst, time.Now)
}

func newDegradedLogThrottle(interval time.Duration, burst int, now func() time.Time) *DegradedLogThrottle {
	if interval <= 0 {
		interval = DefaultDegradedLogInterval
	}
	if burst <= 0 {
		burst = DefaultDegradedLogBurst
	}
	return &DegradedLogThrottle{
		interval: interval,
		seen:     cache.NewTTLMapWithClock(interval, now),
		global:   rate.NewLimiter(rate.Limit(burst), burst),
		now:      now,
	}
}

func (t *DegradedLogThrottle) Allow(key string) bool {
	if !t.seen.SetIfAbsent(key, struct{}{}) {
		metrics.RateLimitDegradedLogsSuppressed.Inc()
		return false
	}
	if !t.global.AllowN(t.now(), 1) {
		// Unmark the key so its next degradation can still be logged.
		t.seen.Delete(key)
		metrics.RateLimitDegradedLogsSuppressed.Inc()
		return false
	}
	return true
}

// Start purges remembered keys in the background until ctx is done.
func (t *DegradedLogThrottle) Start(ctx context.Context) {
	t.seen.StartJanitor(ctx, t.interval)
}
