package middleware

import (
	"context"

	"github.com/ArchiveLabs/ArchiveGate/pkg/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type traceMiddleware struct{}

func NewTraceMiddleware() Middleware {
	return &traceMiddleware{}
}

// Middleware tags the request with a trace id, reusing X-Request-Id when the
// caller sent a valid UUID.
func (m *traceMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Get(common.RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		ctx.Locals(common.TraceIdKey, id)
		ctx.Set(common.RequestIDHeader, id)

		c := context.WithValue(ctx.UserContext(), common.TraceIdKey, id)
		ctx.SetUserContext(c)
		return ctx.Next()
	}
}
