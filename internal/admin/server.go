// Package admin serves the relay's operational HTTP surface: liveness,
// readiness, Prometheus metrics and relay connection counters. Metrics and
// counters can be put behind a bearer token.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/relaywire/internal/auth"
	"github.com/danmuck/relaywire/internal/observability"
	"github.com/danmuck/relaywire/internal/relay"
)

const version = "0.1.0"

// StatusSource reports relay counters for /status and /readyz.
type StatusSource interface {
	Snapshot() relay.Snapshot
}

type Options struct {
	Name        string
	Addr        string
	CORSOrigins []string
	Status      StatusSource
	// Guard protects /status and /metrics when set.
	Guard  auth.Validator
	Logger zerolog.Logger
}

type Server struct {
	Name    string
	Addr    string
	Started time.Time

	status StatusSource
	guard  auth.Validator
	router *gin.Engine
	log    zerolog.Logger
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Instrument(opts.Logger, opts.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:    opts.Name,
		Addr:    opts.Addr,
		Started: time.Now(),
		status:  opts.Status,
		guard:   opts.Guard,
		router:  r,
		log:     opts.Logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"node":    s.Name,
			"version": version,
		})
	})

	s.router.GET("/readyz", func(c *gin.Context) {
		snap := s.snapshot()
		status := http.StatusOK
		if snap.Active == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":              snap.Active > 0,
			"active_connections": snap.Active,
			"node":               s.Name,
		})
	})

	private := s.router.Group("/")
	if s.guard != nil {
		private.Use(auth.Middleware(s.guard))
	}

	private.GET("/metrics", gin.WrapH(promhttp.Handler()))

	private.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":    s.Name,
			"uptime":  time.Since(s.Started).String(),
			"version": version,
			"relay":   s.snapshot(),
		})
	})
}

func (s *Server) snapshot() relay.Snapshot {
	if s.status == nil {
		return relay.Snapshot{}
	}
	return s.status.Snapshot()
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.Addr).Msg("admin: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("admin: stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
