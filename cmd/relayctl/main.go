// Command relayctl keeps a tunnel relay connection open, forwards tunnelled
// HTTP requests to a local upstream and serves an admin HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/relaywire/internal/admin"
	"github.com/danmuck/relaywire/internal/auth"
	"github.com/danmuck/relaywire/internal/config"
	"github.com/danmuck/relaywire/internal/logging"
	"github.com/danmuck/relaywire/internal/observability"
	"github.com/danmuck/relaywire/internal/relay"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, printOnly, err := parseFlags(args)
	if err != nil {
		return err
	}
	if printOnly {
		out, err := config.Render(toFile(cfg))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}
	logger := observability.InitLogger(cfg.Name, cfg.Log)
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()

	fwd, err := relay.NewForwarder(
		cfg.Relay.UpstreamURL,
		&http.Client{Timeout: cfg.Relay.RequestTimeout},
		cfg.Relay.MaxFrameBytes,
		observability.Component(logger, "forwarder"),
	)
	if err != nil {
		return err
	}
	stats := &relay.Stats{}
	client := relay.NewClient(cfg.Relay,
		relay.WithHandler(fwd),
		relay.WithStats(stats),
		relay.WithLogger(observability.Component(logger, "relay")),
		relay.WithMetrics(observability.CodecMetrics{}),
		relay.WithSeed(time.Now().UnixNano()),
	)
	adminSrv := admin.New(admin.Options{
		Name:        cfg.Name,
		Addr:        cfg.AdminListen,
		CORSOrigins: cfg.CORSOrigins,
		Status:      stats,
		Guard:       auth.FromToken(cfg.AdminToken),
		Logger:      observability.Component(logger, "admin"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("relay", cfg.Relay.Address).
		Str("upstream", cfg.Relay.UpstreamURL).
		Str("admin", cfg.AdminListen).
		Bool("strict", cfg.Relay.Strict).
		Msg("relayctl starting")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return adminSrv.Serve(gctx)
	})
	group.Go(func() error {
		return client.Run(gctx)
	})

	err = group.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info().Msg("relayctl stopped")
		return nil
	case errors.Is(err, relay.ErrServiceClosed):
		logger.Info().Err(err).Msg("relayctl stopped by service")
		return nil
	default:
		return err
	}
}

// parseFlags resolves the effective config: defaults, then the file, then
// RELAYWIRE_LOG_* env, then -log-level.
func parseFlags(args []string) (appConfig, bool, error) {
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	logLevel := fs.String("log-level", "", "log level (trace, debug, info, warn, error, off)")
	printConfig := fs.Bool("print-config", false, "print the effective config as TOML and exit")
	if err := fs.Parse(args); err != nil {
		return appConfig{}, false, err
	}

	cfg := defaultAppConfig()
	if *configPath != "" {
		loaded, err := loadAppConfig(*configPath)
		if err != nil {
			return appConfig{}, false, err
		}
		cfg = loaded
	}
	logging.ApplyEnvOverrides(&cfg.Log)
	if *logLevel != "" {
		lvl, ok := logging.ParseLevel(*logLevel)
		if !ok {
			return appConfig{}, false, fmt.Errorf("unknown -log-level %q", *logLevel)
		}
		cfg.Log.Level = lvl
	}
	return cfg, *printConfig, nil
}
