package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/aggregator"
	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/middleware"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/proxy"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// aggregationRoutePrefix marks aggregation requests in logs, metrics and
// the X-Gateway-Route header.
const aggregationRoutePrefix = "aggregation:"

// maintenanceBody is the 503 body written in maintenance mode.
type maintenanceBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handle serves one request under the gateway prefix.
func (g *Gateway) handle(c *gin.Context) {
	cfg := g.Config()
	r := c.Request

	path, ok := stripPrefix(r.URL.Path, cfg.Server.Prefix)
	if !ok {
		g.fail(c, util.NewRouteNotFoundError(r.Method, r.URL.Path))
		return
	}

	if cfg.Maintenance.Enabled {
		util.WriteJSON(c.Writer, http.StatusServiceUnavailable, maintenanceBody{
			Error:   "maintenance",
			Message: cfg.Maintenance.Message,
		})
		c.Abort()
		return
	}

	agg, err := g.router.FindAggregation(r.Context(), path, r.Method)
	if err != nil {
		g.fail(c, err)
		return
	}
	if agg != nil {
		g.serveAggregation(c, cfg, agg.Aggregation, agg.PathParams)
		return
	}

	match, err := g.router.FindRoute(path, r.Method)
	if err != nil {
		g.fail(c, err)
		return
	}

	key := match.Route.Key()
	c.Set(middleware.RouteKey, key)
	ctx := util.ContextWithRoute(r.Context(), key)
	ctx = util.ContextWithService(ctx, match.Route.Config.Service)
	ctx = util.ContextWithPathParams(ctx, match.PathParams)
	c.Request = r.WithContext(ctx)
	c.Header(proxy.HeaderGatewayRoute, key)

	if match.Route.Config.AuthRequired && !util.IsAuthenticated(ctx) {
		g.fail(c, util.NewAuthenticationRequiredError(key))
		return
	}

	if err := g.forwarder.Forward(c.Writer, c.Request, match, path); err != nil {
		g.fail(c, err)
		return
	}
}

func (g *Gateway) serveAggregation(c *gin.Context, cfg *config.GatewayConfig, agg config.Aggregation, params map[string]string) {
	key := aggregationRoutePrefix + agg.Name
	c.Set(middleware.RouteKey, key)
	c.Request = c.Request.WithContext(util.ContextWithRoute(c.Request.Context(), key))
	c.Header(proxy.HeaderGatewayRoute, key)

	req, err := aggregator.NewRequest(c.Request, params, middleware.GetClientIP(c), cfg.Server.MaxBodyBytes)
	if err != nil {
		g.fail(c, err)
		return
	}
	req.Route = key

	res, err := g.aggregator.Execute(c.Request.Context(), &agg, req)
	if err != nil {
		g.fail(c, err)
		return
	}
	util.WriteJSON(c.Writer, res.StatusCode, res.Body)
	c.Abort()
}

// fail writes err using the error taxonomy. Oversized bodies answer 413.
func (g *Gateway) fail(c *gin.Context, err error) {
	status, body := util.ErrorResponse(err)
	if errors.Is(err, proxy.ErrRequestTooLarge) {
		status, body = http.StatusRequestEntityTooLarge, util.ErrorBody{
			Error:   "request too large",
			Message: err.Error(),
		}
	}

	fields := []observability.Field{
		observability.String("method", c.Request.Method),
		observability.String("path", c.Request.URL.Path),
		observability.Int("status", status),
		observability.Error(err),
	}
	if status >= http.StatusInternalServerError {
		g.logger.WithContext(c.Request.Context()).Warn("gateway request failed", fields...)
	} else {
		g.logger.WithContext(c.Request.Context()).Debug("gateway request rejected", fields...)
	}

	var rl *util.RateLimitError
	if errors.As(err, &rl) {
		util.WriteError(c.Writer, err)
	} else {
		util.WriteJSON(c.Writer, status, body)
	}
	c.Abort()
}

// stripPrefix returns path relative to prefix. The result always starts
// with a slash.
func stripPrefix(path, prefix string) (string, bool) {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return path, true
	}
	if path == prefix {
		return "/", true
	}
	if !strings.HasPrefix(path, prefix+"/") {
		return "", false
	}
	return path[len(prefix):], true
}
