package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/config"
	metrics "github.com/ArchiveLabs/ArchiveGate/pkg/infra/prometheus"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/router"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/sync/errgroup"
)

const MetricsPath = "/metrics"

// Server interface defines the common behavior for all servers
type Server interface {
	Run() error
	Shutdown() error
}

type BaseServer struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Router     *fiber.App
	metricsApp *fiber.App
}

func NewBaseServer(cfg *config.Config, logger *logrus.Logger) *BaseServer {
	r := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReduceMemoryUsage:     true,
		Network:               fiber.NetworkTCP,
		BodyLimit:             8 * 1024 * 1024,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		Concurrency:           16384,
	})

	r.Server().ReadBufferSize = 8192
	r.Server().WriteBufferSize = 8192
	r.Server().NoDefaultServerHeader = true

	return &BaseServer{
		Config: cfg,
		Logger: logger,
		Router: r,
	}
}

func (s *BaseServer) WithRouters(routers ...router.ServerRouter) error {
	for _, r := range routers {
		if err := r.BuildRoutes(s.Router); err != nil {
			return fmt.Errorf("failed to build routes: %w", err)
		}
	}
	return nil
}

func (s *BaseServer) setupMetricsEndpoint() {
	if !s.Config.Metrics.Enabled {
		s.Logger.Info("prometheus metrics are disabled by configuration")
		return
	}
	metrics.Initialize(metrics.MetricsConfig{Enabled: true})

	metricsApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	metricsApp.Use(recover.New())

	handler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	metricsApp.Get(MetricsPath, func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	})
	s.metricsApp = metricsApp
}

type (
	APIServerDI struct {
		Config  *config.Config
		Logger  *logrus.Logger
		Routers []router.ServerRouter
	}
	APIServer struct {
		*BaseServer
	}
)

// NewAPIServer builds every route up front. Any route whose rate limit
// declaration does not validate makes construction fail.
func NewAPIServer(di APIServerDI) (*APIServer, error) {
	s := &APIServer{BaseServer: NewBaseServer(di.Config, di.Logger)}
	if err := s.WithRouters(di.Routers...); err != nil {
		return nil, err
	}
	s.setupMetricsEndpoint()
	return s, nil
}

// Run serves the API and, when enabled, the metrics endpoint. It returns
// once both listeners have stopped.
func (s *APIServer) Run() error {
	var g errgroup.Group

	if s.metricsApp != nil {
		metricsAddr := fmt.Sprintf(":%d", s.Config.Server.MetricsPort)
		g.Go(func() error {
			s.Logger.WithField("addr", metricsAddr).Info("starting metrics server")
			return s.metricsApp.Listen(metricsAddr)
		})
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	g.Go(func() error {
		s.Logger.WithField("addr", addr).Info("starting api server")
		return s.Router.Listen(addr)
	})

	return g.Wait()
}

func (s *APIServer) Shutdown() error {
	var errs []error
	if err := s.Router.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if s.metricsApp != nil {
		if err := s.metricsApp.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
