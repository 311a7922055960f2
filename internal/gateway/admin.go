package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// registerAdminRoutes mounts the check, metrics and admin endpoints.
func (g *Gateway) registerAdminRoutes(engine *gin.Engine, cfg *config.GatewayConfig) {
	g.health.RegisterRoutes(engine)

	if cfg.Observability.Metrics.Enabled {
		engine.GET(cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	admin := engine.Group("/admin")
	admin.GET("/circuit-breakers", g.circuitBreakers)
	admin.POST("/circuit-breakers/reset", g.resetCircuitBreakers)
	admin.GET("/services", g.services)
	admin.POST("/cache/invalidate", g.invalidateCache)
}

// circuitBreakers reports every service breaker and the gateway backstop.
func (g *Gateway) circuitBreakers(c *gin.Context) {
	body := gin.H{"circuit_breakers": g.router.Breakers().Snapshots()}
	if g.backstop != nil {
		counts := g.backstop.Counts()
		body["backstop"] = gin.H{
			"state":                g.backstop.State().String(),
			"requests":             counts.Requests,
			"consecutive_failures": counts.ConsecutiveFailures,
		}
	}
	c.JSON(http.StatusOK, body)
}

// resetCircuitBreakers closes every service breaker.
func (g *Gateway) resetCircuitBreakers(c *gin.Context) {
	g.router.Breakers().ResetAll()
	g.logger.Info("circuit breakers reset",
		observability.String("client_ip", c.ClientIP()),
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// services reports the health snapshot of every registered service.
func (g *Gateway) services(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": g.router.Registry().Statuses()})
}

func (g *Gateway) invalidateCache(c *gin.Context) {
	g.router.InvalidateCache()
	g.logger.Info("route cache invalidated",
		observability.String("client_ip", c.ClientIP()),
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
