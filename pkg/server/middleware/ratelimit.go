package middleware

import (
	"errors"
	"strconv"

	"github.com/ArchiveLabs/ArchiveGate/pkg/app/admission"
	"github.com/ArchiveLabs/ArchiveGate/pkg/app/identity"
	"github.com/ArchiveLabs/ArchiveGate/pkg/common"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type RateLimiter struct {
	logger *logrus.Logger
	engine admission.Engine
}

func NewRateLimiter(logger *logrus.Logger, engine admission.Engine) *RateLimiter {
	return &RateLimiter{
		logger: logger,
		engine: engine,
	}
}

// Limit guards op. It must run after the auth middleware and after
// WithPayload when the operation declares one.
func (l *RateLimiter) Limit(op ratelimit.Operation) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision, err := l.engine.Decide(c.UserContext(), op, requestFrom(c))
		if err != nil {
			var misconfigured *ratelimit.MisconfigurationError
			if !errors.As(err, &misconfigured) {
				l.logger.WithError(err).WithField("operation", op.Name).Error("rate limit decision failed")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
			})
		}

		if !decision.Allowed {
			seconds := decision.RetryAfterSeconds()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"retry_after": seconds,
			})
		}

		if decision.Remaining != ratelimit.RemainingUnknown {
			c.Set(common.RateLimitRemainingHeader, strconv.FormatInt(decision.Remaining, 10))
		}
		return c.Next()
	}
}

func requestFrom(c *fiber.Ctx) identity.Request {
	return identity.Request{
		PeerAddress:  c.Context().RemoteIP().String(),
		ForwardedFor: c.Get(fiber.HeaderXForwardedFor),
		Principal:    PrincipalFrom(c),
		Payload:      c.Locals(common.PayloadContextKey),
		Param: func(name string) string {
			if v := c.Query(name); v != "" {
				return v
			}
			return c.FormValue(name)
		},
	}
}

type validator interface {
	Validate() error
}

// WithPayload decodes the request body into a *T before the limiter runs,
// so EMAIL specs can read it and the handler can reuse it through Payload.
// Payloads with a Validate method are rejected with 400 before any bucket
// is touched.
func WithPayload[T any]() fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := new(T)
		if len(c.Body()) > 0 {
			if err := c.BodyParser(payload); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid request body",
				})
			}
		}
		if v, ok := any(payload).(validator); ok {
			if err := v.Validate(); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
		}
		c.Locals(common.PayloadContextKey, payload)
		return c.Next()
	}
}

// Payload returns the body decoded by WithPayload[T].
func Payload[T any](c *fiber.Ctx) (*T, bool) {
	payload, ok := c.Locals(common.PayloadContextKey).(*T)
	return payload, ok
}
