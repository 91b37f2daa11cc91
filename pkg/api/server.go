// Package api exposes the HTTP surface: flow operations, error
// statistics, alert rules, health, Prometheus metrics, and the
// WebSocket event stream. All /api/v1 routes pass through the auth
// gate; /healthz, /metrics, and /ws stay open.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probelab/delver/pkg/auth"
	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/flow"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/resilience"
	"github.com/probelab/delver/pkg/scheduler"
)

// contentTypeJSON is the single JSON content-type literal in the package.
const contentTypeJSON = "application/json"

// Server holds the router and the components the handlers delegate to.
type Server struct {
	cfg         *config.Config
	flows       *flow.Manager
	scheduler   *scheduler.Scheduler
	reporter    *reporter.Reporter
	metrics     *metrics.Metrics
	breakers    *resilience.BreakerRegistry
	connManager *events.ConnectionManager
	gate        auth.Gate
	logger      *slog.Logger

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer builds the router and binds every route.
func NewServer(cfg *config.Config, flows *flow.Manager, sched *scheduler.Scheduler, rep *reporter.Reporter, m *metrics.Metrics, breakers *resilience.BreakerRegistry, connManager *events.ConnectionManager, gate auth.Gate) *Server {
	s := &Server{
		cfg:         cfg,
		flows:       flows,
		scheduler:   sched,
		reporter:    rep,
		metrics:     m,
		breakers:    breakers,
		connManager: connManager,
		gate:        gate,
		logger:      slog.Default().With("component", "api"),
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(s.requestLogger())

	// Unauthenticated surface.
	e.GET("/healthz", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.Use(s.authenticate())

	v1.POST("/flows", s.startFlowsHandler, s.require(auth.PermResearchWrite))
	v1.POST("/flows/continue", s.startContinuousHandler, s.require(auth.PermResearchWrite))
	v1.GET("/flows", s.listFlowsHandler, s.require(auth.PermResearchRead))
	v1.GET("/flows/:id", s.getFlowHandler, s.require(auth.PermResearchRead))
	v1.POST("/flows/:id/cancel", s.cancelFlowHandler, s.require(auth.PermResearchWrite))

	v1.GET("/errors/stats", s.errorStatsHandler, s.require(auth.PermAdminAccess))
	v1.GET("/errors/visualize", s.errorVisualizeHandler, s.require(auth.PermAdminAccess))
	v1.GET("/errors/trends", s.errorTrendsHandler, s.require(auth.PermAdminAccess))

	v1.GET("/alerts", s.listAlertsHandler, s.require(auth.PermAdminAccess))
	v1.POST("/alerts", s.addAlertHandler, s.require(auth.PermAdminAccess))
	v1.DELETE("/alerts/:index", s.removeAlertHandler, s.require(auth.PermAdminAccess))

	s.echo = e
	return s
}

// metricsHandler serves the Prometheus registry in text exposition format.
func (s *Server) metricsHandler(c *echo.Context) error {
	promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(c.Response(), c.Request())
	return nil
}

// Start begins serving on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests use it to bind
// a random localhost port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.Serve(ln)
}

// Shutdown closes WebSocket connections and drains in-flight requests.
// WebSocket connections are hijacked from the HTTP server, so they must
// be closed explicitly before the drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.connManager != nil {
		s.connManager.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
