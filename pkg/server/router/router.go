package router

import (
	"errors"
	"fmt"

	"github.com/ArchiveLabs/ArchiveGate/pkg/app/admission"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/gofiber/fiber/v2"
)

var ErrMissingHandler = errors.New("route has no handler")

type ServerRouter interface {
	BuildRoutes(router *fiber.App) error
}

// Route is one rate limited endpoint. Before runs ahead of the limiter,
// which is where payload decoding and authentication checks belong.
type Route struct {
	Method  string
	Path    string
	Specs   []ratelimit.Spec
	Before  []fiber.Handler
	Handler fiber.Handler
}

// Protector registers a route's specs and mounts it behind the limiter.
// Registration fails on invalid specs, so a bad declaration stops startup
// instead of surfacing on the first request.
type Protector struct {
	registry *admission.Registry
	limiter  *middleware.RateLimiter
}

func NewProtector(registry *admission.Registry, limiter *middleware.RateLimiter) *Protector {
	return &Protector{
		registry: registry,
		limiter:  limiter,
	}
}

// Protect mounts route on r. The path used for the operation name is the
// full path, so groups must pass it already prefixed.
func (p *Protector) Protect(r fiber.Router, route Route) error {
	if route.Handler == nil {
		return fmt.Errorf("%s %s: %w", route.Method, route.Path, ErrMissingHandler)
	}
	op, err := p.registry.Register(route.Method, route.Path, route.Specs...)
	if err != nil {
		return err
	}

	chain := make([]fiber.Handler, 0, len(route.Before)+2)
	chain = append(chain, route.Before...)
	chain = append(chain, p.limiter.Limit(op), route.Handler)
	r.Add(route.Method, route.Path, chain...)
	return nil
}
