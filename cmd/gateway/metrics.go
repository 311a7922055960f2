package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/svcgw/internal/health"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// createMetricsServer creates the metrics HTTP server. It also serves the
// checks so orchestrators can reach them on the metrics port.
func createMetricsServer(port int, path string, h *health.Handler, logger observability.Logger) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(path, gin.WrapH(promhttp.Handler()))
	h.RegisterRoutes(engine)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", path),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server when metrics are
// enabled on a port other than the gateway's.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	m := app.config.Observability.Metrics
	if !m.Enabled || m.Port == app.config.Server.Port {
		return
	}

	app.metricsServer = createMetricsServer(m.Port, m.Path, app.health, logger)
	go runMetricsServer(app.metricsServer, logger)
}
