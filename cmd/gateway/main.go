package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArchiveLabs/ArchiveGate/pkg/config"
	"github.com/ArchiveLabs/ArchiveGate/pkg/dependency_container"
	infraLogger "github.com/ArchiveLabs/ArchiveGate/pkg/infra/logger"
	"github.com/ArchiveLabs/ArchiveGate/pkg/server"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const configPath = "config"

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	if err := run(); err != nil {
		log.Printf("gateway stopped: %v", err)
		os.Exit(1)
	}
}

// run owns every resource of the process, so its deferred cleanups execute
// before main decides the exit code.
func run() error {
	logger, logCloser, err := infraLogger.NewLogger("gateway")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	if err := config.Load(configPath); err != nil {
		logger.WithError(err).Error("failed to load config")
		return err
	}
	cfg := config.GetConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := dependency_container.NewContainer(ctx, dependency_container.ContainerDI{
		Cfg:    cfg,
		Logger: logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.WithError(err).Error("failed to close redis pools")
		}
	}()

	srv, err := server.NewAPIServer(server.APIServerDI{
		Config:  cfg,
		Logger:  logger,
		Routers: container.Routers(),
	})
	if err != nil {
		logger.WithError(err).Error("failed to build server")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		reloadTrustedProxies(gctx, logger, container)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("server stopped with error")
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}

// reloadTrustedProxies re-reads the configuration on SIGHUP and swaps the
// trusted proxy list. Everything else needs a restart.
func reloadTrustedProxies(ctx context.Context, logger *logrus.Logger, container *dependency_container.Container) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			fresh, err := config.Read(configPath)
			if err != nil {
				logger.WithError(err).Error("failed to reload config, keeping trusted proxies")
				continue
			}
			entries := fresh.RateLimit.TrustedProxies
			container.ReloadTrustedProxies(entries)
			logger.WithField("entries", len(entries)).Info("trusted proxies reloaded")
		}
	}
}
