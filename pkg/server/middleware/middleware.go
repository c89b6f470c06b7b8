package middleware

import "github.com/gofiber/fiber/v2"

type Middleware interface {
	Middleware() fiber.Handler
}

// Transport is the ordered chain every API route runs before its own
// handlers. Order matters: the auth step must come before any limiter that
// keys on the user.
type Transport struct {
	middlewares []Middleware
}

func NewTransport(middlewares ...Middleware) *Transport {
	return &Transport{middlewares: middlewares}
}

func (t *Transport) Len() int {
	return len(t.middlewares)
}

// Handlers returns the chain in the form fiber's Use accepts.
func (t *Transport) Handlers() []interface{} {
	handlers := make([]interface{}, 0, len(t.middlewares))
	for _, m := range t.middlewares {
		handlers = append(handlers, m.Middleware())
	}
	return handlers
}
