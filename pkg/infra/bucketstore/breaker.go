package bucketstore

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

type CircuitBreaker interface {
	Execute(fn func() error) error
}

type circuitBreakerWrapper struct {
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker trips after maxFailures consecutive failures and probes
// the backend again after openTimeout. A zero maxFailures disables it.
func NewCircuitBreaker(name string, openTimeout time.Duration, maxFailures uint32) CircuitBreaker {
	if maxFailures == 0 {
		return passthroughBreaker{}
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &circuitBreakerWrapper{
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *circuitBreakerWrapper) Execute(fn func() error) (err error) {
	_, err = g.breaker.Execute(func() (_ interface{}, execErr error) {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return nil, fn()
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", g.breaker.Name(), err)
	}
	return nil
}

type passthroughBreaker struct{}

func (passthroughBreaker) Execute(fn func() error) error {
	return fn()
}
