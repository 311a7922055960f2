package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// runGateway runs the gateway and handles shutdown.
func runGateway(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.supervisor.Start(ctx)

	if err := app.gateway.Start(ctx); err != nil {
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return // unreachable in production; allows test to continue
	}

	startMetricsServerIfEnabled(app, logger)
	watcher := startConfigWatcher(ctx, app, configPath, logger)
	startRepositoryRefresh(ctx, app, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	cancel()
	shutdown(app, watcher, logger)
}

// shutdown stops every component. In-flight requests drain for up to
// server.shutdownTimeout.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	timeout := app.gateway.Config().Server.ShutdownTimeout.OrDefault(config.DefaultShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if app.metricsServer != nil {
		logger.Info("stopping metrics server")
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if app.gateway.IsRunning() {
		if err := app.gateway.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop gateway gracefully", observability.Error(err))
		}
	}

	app.supervisor.Stop()
	app.pool.CloseIdleConnections()

	if app.limiter != nil {
		if err := app.limiter.Close(); err != nil {
			logger.Error("failed to close rate limiter", observability.Error(err))
		}
	}

	if err := app.repo.Close(); err != nil {
		logger.Error("failed to close repository", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
