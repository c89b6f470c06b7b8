package ratelimit

import (
	"fmt"
	"math"
	"time"
)

const DefaultRefillPeriodSeconds = 60

type IdentityPolicy string

const (
	IdentityAuto  IdentityPolicy = "auto"
	IdentityUser  IdentityPolicy = "user"
	IdentityIP    IdentityPolicy = "ip"
	IdentityEmail IdentityPolicy = "email"
)

func (p IdentityPolicy) Valid() bool {
	switch p {
	case IdentityAuto, IdentityUser, IdentityIP, IdentityEmail:
		return true
	}
	return false
}

type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail_open"
	FailClosed FailurePolicy = "fail_closed"
)

// Spec is one token bucket constraint attached to a protected operation.
// Specs on the same operation compose with AND semantics.
type Spec struct {
	Capacity            uint
	RefillTokens        uint
	RefillPeriodSeconds uint
	// KeyPrefix is derived from the route when left empty.
	KeyPrefix  string
	Identity   IdentityPolicy
	FailClosed bool
}

// WithDefaults fills the optional fields the same way an undecorated
// declaration would: 60 second refill period and AUTO identity.
func (s Spec) WithDefaults() Spec {
	if s.RefillPeriodSeconds == 0 {
		s.RefillPeriodSeconds = DefaultRefillPeriodSeconds
	}
	if s.Identity == "" {
		s.Identity = IdentityAuto
	}
	return s
}

func (s Spec) Validate() error {
	if s.Capacity == 0 {
		return fmt.Errorf("%w: capacity must be greater than zero", ErrInvalidSpec)
	}
	if s.RefillTokens == 0 {
		return fmt.Errorf("%w: refill tokens must be greater than zero", ErrInvalidSpec)
	}
	if s.RefillPeriodSeconds == 0 {
		return fmt.Errorf("%w: refill period must be greater than zero", ErrInvalidSpec)
	}
	if !s.Identity.Valid() {
		return fmt.Errorf("%w: unknown identity policy %q", ErrInvalidSpec, s.Identity)
	}
	return nil
}

func (s Spec) FailurePolicy() FailurePolicy {
	if s.FailClosed {
		return FailClosed
	}
	return FailOpen
}

// RefillRate is the number of tokens added per second.
func (s Spec) RefillRate() float64 {
	return float64(s.RefillTokens) / float64(s.RefillPeriodSeconds)
}

// MaxTimeToFull bounds TimeToFull. Half the Duration range leaves room for
// the expiry jitter added on top.
const MaxTimeToFull = time.Duration(math.MaxInt64 / 2)

// TimeToFull is how long an empty bucket takes to refill to capacity,
// saturated at MaxTimeToFull.
func (s Spec) TimeToFull() time.Duration {
	if s.RefillTokens == 0 {
		return 0
	}
	seconds := float64(s.Capacity) / float64(s.RefillTokens) * float64(s.RefillPeriodSeconds)
	if seconds >= MaxTimeToFull.Seconds() {
		return MaxTimeToFull
	}
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

// Operation is a protected operation together with its ordered specs.
type Operation struct {
	Name  string
	Specs []Spec
}
