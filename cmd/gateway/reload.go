package main

import (
	"context"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// reloadTimeout bounds one reload of the routing table.
const reloadTimeout = 30 * time.Second

// reloadGateway applies a configuration that loaded and validated.
func reloadGateway(app *application, newCfg *config.GatewayConfig, logger observability.Logger) {
	applyEnvOverrides(newCfg)

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	if err := app.gateway.Reload(ctx, newCfg); err != nil {
		logger.Error("failed to reload configuration", observability.Error(err))
	}
}

// startConfigWatcher starts the configuration watcher.
func startConfigWatcher(ctx context.Context, app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GatewayConfig) {
		logger.Info("configuration changed, reloading")
		reloadGateway(app, newCfg, logger)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}
	return watcher
}

// startRepositoryRefresh periodically reloads the routing table from a SQL
// repository, which the file watcher cannot observe.
func startRepositoryRefresh(ctx context.Context, app *application, logger observability.Logger) {
	interval := app.config.Repository.RefreshInterval.Duration()
	if interval <= 0 || app.config.Repository.Driver == config.RepositoryMemory {
		return
	}

	logger.Info("repository refresh enabled", observability.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
				if err := app.gateway.Refresh(rctx); err != nil {
					logger.Error("failed to refresh routing table", observability.Error(err))
				}
				cancel()
			}
		}
	}()
}
