package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/relaywire/internal/config"
	"github.com/danmuck/relaywire/internal/logging"
	"github.com/danmuck/relaywire/internal/relay"
)

// appConfig is everything relayctl needs to start.
type appConfig struct {
	Name        string
	AdminListen string
	AdminToken  string
	CORSOrigins []string
	Relay       relay.Config
	Log         logging.Config
}

func defaultAppConfig() appConfig {
	return appConfig{
		Name:        config.DefaultName,
		AdminListen: config.DefaultAdminListen,
		Relay:       relay.DefaultConfig(),
		Log:         logging.DefaultConfig(logging.ProfileRuntime),
	}
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load relayctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load relayctl config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("relay_address") {
		cfg.Relay.Address = strings.TrimSpace(raw.RelayAddress)
	}
	if meta.IsDefined("upstream_url") {
		cfg.Relay.UpstreamURL = strings.TrimSpace(raw.UpstreamURL)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("strict") {
		cfg.Relay.Strict = raw.Strict
	}
	if meta.IsDefined("max_frame_bytes") {
		if raw.MaxFrameBytes <= 0 || raw.MaxFrameBytes > int64(cfg.Relay.MaxFrameBytes) {
			return appConfig{}, fmt.Errorf("max_frame_bytes must be in 1..%d, got %d", cfg.Relay.MaxFrameBytes, raw.MaxFrameBytes)
		}
		cfg.Relay.MaxFrameBytes = uint32(raw.MaxFrameBytes)
	}
	if meta.IsDefined("max_inflight") {
		cfg.Relay.MaxInflight = raw.MaxInflight
	}
	if meta.IsDefined("send_queue") {
		cfg.Relay.SendQueue = raw.SendQueue
	}
	if meta.IsDefined("dial_timeout") {
		if cfg.Relay.DialTimeout, err = parseDuration("dial_timeout", raw.DialTimeout); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("request_timeout") {
		if cfg.Relay.RequestTimeout, err = parseDuration("request_timeout", raw.RequestTimeout); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Relay.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if meta.IsDefined("backoff", "initial") {
		if cfg.Relay.Backoff.InitialDelay, err = parseDuration("backoff.initial", raw.Backoff.Initial); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Relay.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "max") {
		if cfg.Relay.Backoff.MaxDelay, err = parseDuration("backoff.max", raw.Backoff.Max); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Relay.Backoff.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return appConfig{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	return cfg, nil
}

// toFile is the inverse of loadAppConfig, used by -print-config.
func toFile(cfg appConfig) config.File {
	r := cfg.Relay
	return config.File{
		Name:               cfg.Name,
		RelayAddress:       r.Address,
		UpstreamURL:        r.UpstreamURL,
		AdminListen:        cfg.AdminListen,
		AdminToken:         cfg.AdminToken,
		CORSOrigins:        cfg.CORSOrigins,
		Strict:             r.Strict,
		MaxFrameBytes:      int64(r.MaxFrameBytes),
		MaxInflight:        r.MaxInflight,
		SendQueue:          r.SendQueue,
		DialTimeout:        r.DialTimeout.String(),
		RequestTimeout:     r.RequestTimeout.String(),
		MaxConnectAttempts: r.MaxConnectAttempts,
		Backoff: config.Backoff{
			Initial:    r.Backoff.InitialDelay.String(),
			Multiplier: r.Backoff.Multiplier,
			Max:        r.Backoff.MaxDelay.String(),
			Jitter:     r.Backoff.Jitter,
		},
		Log: config.Log{
			Level:     cfg.Log.Level.String(),
			Timestamp: cfg.Log.Timestamp,
			NoColor:   cfg.Log.NoColor,
		},
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
