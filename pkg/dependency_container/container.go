package dependency_container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ArchiveLabs/ArchiveGate/pkg/app/admission"
	"github.com/ArchiveLabs/ArchiveGate/pkg/app/identity"
	"github.com/ArchiveLabs/ArchiveGate/pkg/config"
	"github.com/ArchiveLabs/ArchiveGate/pkg/domain/ratelimit"
	handlers "github.com/ArchiveLabs/ArchiveGate/pkg/handlers/http"
	"github.com/ArchiveLabs/ArchiveGate/pkg/handlers/http/request"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/auth/jwt"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/bucketstore"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/cache"
	"github.com/ArchiveLabs/ArchiveGate/pkg/infra/proxytrust"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/middleware"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server/router"
	"github.com/sirupsen/logrus"
)

type Container struct {
	FailOpenCache       cache.Client
	FailClosedCache     cache.Client
	Pools               bucketstore.Pools
	TrustEvaluator      proxytrust.Evaluator
	Resolver            identity.Resolver
	DegradedLogThrottle *admission.DegradedLogThrottle
	Engine              admission.Engine
	Registry            *admission.Registry
	RateLimiter         *middleware.RateLimiter
	Protector           *router.Protector
	JWTManager          jwt.Manager
	MiddlewareTransport *middleware.Transport
	HandlerTransport    handlers.HandlerTransport
}

type ContainerDI struct {
	Cfg    *config.Config
	Logger *logrus.Logger
}

func NewContainer(ctx context.Context, di ContainerDI) (*Container, error) {
	cfg := di.Cfg
	rl := cfg.RateLimit

	tlsConfig, err := config.BuildRedisTLSConfig(cfg.Redis.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to build redis tls config: %w", err)
	}

	// The two pools share a server but not sockets: a slow fail-closed call
	// must never hold a connection a fail-open call is waiting for.
	newCacheConfig := func(name string, timeout time.Duration) cache.Config {
		return cache.Config{
			Name:      name,
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TLSConfig: tlsConfig,
			Timeout:   timeout,
			PoolSize:  cfg.Redis.PoolSize,
		}
	}

	failOpenCache, err := cache.NewClient(newCacheConfig(bucketstore.PoolFailOpen, rl.FailOpenTimeout), di.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	failClosedCache, err := cache.NewClient(newCacheConfig(bucketstore.PoolFailClosed, rl.FailClosedTimeout), di.Logger)
	if err != nil {
		_ = failOpenCache.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	newStore := func(c cache.Client, opts bucketstore.Options) (bucketstore.Store, error) {
		opts.Name = c.Name()
		opts.Strategy = bucketstore.Strategy(rl.Store.Strategy)
		opts.CASMaxRetries = rl.Store.CASMaxRetries
		opts.ExpiryJitter = rl.ExpiryJitter
		opts.Breaker = bucketstore.NewCircuitBreaker(c.Name(), rl.Breaker.OpenTimeout, rl.Breaker.MaxFailures)
		return bucketstore.NewStore(c.RedisClient(), opts)
	}
	failOpenStore, err := newStore(failOpenCache, bucketstore.Options{Timeout: rl.FailOpenTimeout})
	if err != nil {
		return nil, errors.Join(err, failOpenCache.Close(), failClosedCache.Close())
	}
	failClosedStore, err := newStore(failClosedCache, bucketstore.Options{Timeout: rl.FailClosedTimeout})
	if err != nil {
		return nil, errors.Join(err, failOpenCache.Close(), failClosedCache.Close())
	}
	pools := bucketstore.Pools{FailOpen: failOpenStore, FailClosed: failClosedStore}

	trustEvaluator := proxytrust.NewEvaluator(di.Logger, rl.TrustedProxies)

	if rl.EmailHashSecret == "" {
		di.Logger.Warn("rate_limit.email_hash_secret is empty, email bucket keys use an unkeyed digest")
	}
	resolver := identity.NewResolver(trustEvaluator, rl.EmailHashSecret)

	throttle := admission.NewDegradedLogThrottle(rl.DegradedLogInterval, rl.DegradedLogBurst)
	throttle.Start(ctx)

	engine := admission.NewEngine(di.Logger, resolver, pools, throttle, admission.Config{
		Keys: ratelimit.KeyFormat{
			Namespace:   rl.Namespace,
			UserPrefix:  rl.KeyPrefixes.User,
			IPPrefix:    rl.KeyPrefixes.IP,
			EmailPrefix: rl.KeyPrefixes.Email,
		},
		FailClosedRetryAfter: rl.FailClosedRetryAfter,
	})

	overrides, err := admission.DecodeOverrides(rl.Overrides)
	if err != nil {
		return nil, errors.Join(err, failOpenCache.Close(), failClosedCache.Close())
	}
	registry := admission.NewRegistry(overrides)
	rateLimiter := middleware.NewRateLimiter(di.Logger, engine)
	protector := router.NewProtector(registry, rateLimiter)

	if cfg.Server.SecretKey == "" {
		di.Logger.Warn("server.secret_key is empty, bearer tokens cannot be verified")
	}
	jwtManager := jwt.NewJwtManager(cfg.Server.SecretKey)

	middlewareTransport := middleware.NewTransport(
		middleware.NewTraceMiddleware(),
		middleware.NewMetricsMiddleware(di.Logger),
		middleware.NewPanicRecoverMiddleware(di.Logger),
		middleware.NewAuthMiddleware(di.Logger, jwtManager),
	)

	handlerTransport := handlers.HandlerTransport{
		GetVersionHandler:       handlers.NewGetVersionHandler(),
		EmailLinkHandler:        handlers.NewEmailLinkHandler(di.Logger, rl.EmailHashSecret),
		CreatePostHandler:       handlers.NewCreateResourceHandler[request.CreatePostRequest](di.Logger, "post"),
		CreateDiaryEntryHandler: handlers.NewCreateResourceHandler[request.CreateDiaryEntryRequest](di.Logger, "diary_entry"),
		CreateTicketHandler:     handlers.NewCreateResourceHandler[request.CreateTicketRequest](di.Logger, "ticket"),
		SendFriendRequest:       handlers.NewSendFriendRequestHandler(di.Logger),
		UploadFileHandler:       handlers.NewCreateResourceHandler[request.UploadFileRequest](di.Logger, "file"),
	}

	return &Container{
		FailOpenCache:       failOpenCache,
		FailClosedCache:     failClosedCache,
		Pools:               pools,
		TrustEvaluator:      trustEvaluator,
		Resolver:            resolver,
		DegradedLogThrottle: throttle,
		Engine:              engine,
		Registry:            registry,
		RateLimiter:         rateLimiter,
		Protector:           protector,
		JWTManager:          jwtManager,
		MiddlewareTransport: middlewareTransport,
		HandlerTransport:    handlerTransport,
	}, nil
}

// Routers returns the routers served by the API server.
func (c *Container) Routers() []router.ServerRouter {
	return []router.ServerRouter{
		router.NewAPIRouter(c.MiddlewareTransport, c.HandlerTransport, c.Protector),
	}
}

// ReloadTrustedProxies swaps the trusted proxy list without a restart.
func (c *Container) ReloadTrustedProxies(entries []string) {
	c.TrustEvaluator.Reload(entries)
}

func (c *Container) Close() error {
	return errors.Join(c.FailOpenCache.Close(), c.FailClosedCache.Close())
}
