package middleware

import (
	"fmt"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/common"
	metrics "github.com/ArchiveLabs/ArchiveGate/pkg/infra/prometheus"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type metricsMiddleware struct {
	logger *logrus.Logger
}

func NewMetricsMiddleware(logger *logrus.Logger) Middleware {
	return &metricsMiddleware{logger: logger}
}

func (m *metricsMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		c.Locals(common.LatencyContextKey, start)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// The error handler has not written the response yet.
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		if metrics.Config.Enabled {
			metrics.GatewayRequestTotal.WithLabelValues(c.Method(), statusClass(status)).Inc()
		}
		m.logger.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"trace_id":   c.Locals(common.TraceIdKey),
		}).Debug("request completed")
		return err
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return fmt.Sprintf("%dxx", code/100)
}
