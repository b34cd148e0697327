package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Admin route names used as the metrics label. Anything the router did not
// match is counted as RouteUnmatched so stray paths cannot grow the series.
const (
	RouteHealth    = "health"
	RouteReady     = "ready"
	RouteMetrics   = "metrics"
	RouteStatus    = "status"
	RouteUnmatched = "unmatched"
)

var adminRoutes = map[string]string{
	"/healthz": RouteHealth,
	"/readyz":  RouteReady,
	"/metrics": RouteMetrics,
	"/status":  RouteStatus,
}

// RouteName maps a matched gin route to its label.
func RouteName(fullPath string) string {
	if name, ok := adminRoutes[fullPath]; ok {
		return name
	}
	return RouteUnmatched
}

// Instrument logs and counts every request served by the admin surface.
// A failing readiness check logs at info, server errors at error, client
// errors at warn and everything else at debug.
func Instrument(logger zerolog.Logger, node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := RouteName(c.FullPath())
		RecordHTTPRequest(node, c.Request.Method, route, status, elapsed)

		event := logger.Debug()
		msg := "admin request"
		switch {
		case status == http.StatusServiceUnavailable && route == RouteReady:
			event = logger.Info()
			msg = "relay not ready"
		case status >= 500:
			event = logger.Error()
		case status == http.StatusUnauthorized:
			event = logger.Warn()
			msg = "admin request refused"
		case status >= 400:
			event = logger.Warn()
		}
		event.
			Str("route", route).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg(msg)
	}
}
