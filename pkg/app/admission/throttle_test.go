package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDegradedLogThrottle_OncePerIntervalPerKey(t *testing.T) {
	now := time.Unix(1740730536, 0)
	throttle := newDegradedLogThrottle(30*time.Second, 100, func() time.Time { return now })

	assert.True(t, throttle.Allow("rl:a:ip:1.2.3.4"))
	assert.False(t, throttle.Allow("rl:a:ip:1.2.3.4"))
	assert.True(t, throttle.Allow("rl:a:ip:5.6.7.8"))

	now = now.Add(31 * time.Second)
	assert.True(t, throttle.Allow("rl:a:ip:1.2.3.4"))
}

func TestDegradedLogThrottle_ProcessWideCap(t *testing.T) {
	throttle := newDegradedLogThrottle(time.Minute, 2, time.Now)

	assert.True(t, throttle.Allow("a"))
	assert.True(t, throttle.Allow("b"))
	assert.False(t, throttle.Allow("c"))
}

func TestDegradedLogThrottle_CappedKeyIsLoggedLater(t *testing.T) {
	now := time.Unix(1740730536, 0)
	throttle := newDegradedLogThrottle(time.Minute, 1, func() time.Time { return now })

	assert.True(t, throttle.Allow("rl:a:ip:1.2.3.4"))
	assert.False(t, throttle.Allow("rl:a:ip:5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, throttle.Allow("rl:a:ip:5.6.7.8"))
	assert.False(t, throttle.Allow("rl:a:ip:1.2.3.4"))
}

func TestDegradedLogThrottle_Defaults(t *testing.T) {
	throttle := NewDegradedLogThrottle(0, 0)

	assert.Equal(t, DefaultDegradedLogInterval, throttle.interval)
	assert.Equal(t, float64(DefaultDegradedLogBurst), float64(throttle.global.Limit()))
}
