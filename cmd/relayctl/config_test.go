package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/relaywire/internal/config"
	"github.com/danmuck/relaywire/internal/protocol/frame"
	"github.com/danmuck/relaywire/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadAppConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "relay.local" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Relay.Address != "127.0.0.1:7070" || cfg.Relay.UpstreamURL != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected endpoints: %+v", cfg.Relay)
	}
	if cfg.AdminListen != "127.0.0.1:7071" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListen)
	}
	if cfg.Relay.MaxFrameBytes != frame.MaxLength {
		t.Fatalf("unexpected max frame: %d", cfg.Relay.MaxFrameBytes)
	}
	if cfg.Relay.MaxInflight != 16 || cfg.Relay.SendQueue != 128 {
		t.Fatalf("unexpected queue sizes: %+v", cfg.Relay)
	}
	if cfg.Relay.DialTimeout != 3*time.Second || cfg.Relay.RequestTimeout != 20*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Relay)
	}
	b := cfg.Relay.Backoff
	if b.InitialDelay != 500*time.Millisecond || b.Multiplier != 2.0 || b.MaxDelay != 10*time.Second || !b.Jitter {
		t.Fatalf("unexpected backoff: %+v", b)
	}
	if cfg.Log.Level != zerolog.InfoLevel || !cfg.Log.Timestamp || cfg.Log.NoColor {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "relay_address = \"relay:9000\"\nstrict = true\n")
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultAppConfig()
	if cfg.Relay.Address != "relay:9000" || !cfg.Relay.Strict {
		t.Fatalf("overrides not applied: %+v", cfg.Relay)
	}
	if cfg.Relay.UpstreamURL != def.Relay.UpstreamURL || cfg.Relay.Backoff != def.Relay.Backoff {
		t.Fatalf("defaults lost: %+v", cfg.Relay)
	}
	if cfg.Name != def.Name || cfg.AdminListen != def.AdminListen {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration":    "dial_timeout = \"soon\"\n",
		"negative":    "request_timeout = \"-1s\"\n",
		"frame limit": "max_frame_bytes = 2000000\n",
		"zero frame":  "max_frame_bytes = 0\n",
		"log level":   "[log]\nlevel = \"loud\"\n",
		"unknown key": "relay_adress = \"typo:1\"\n",
		"backoff":     "[backoff]\nmax = \"forever\"\n",
	}
	for name, body := range cases {
		if _, err := loadAppConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseFlagsLogLevelOverride(t *testing.T) {
	testlog.Start(t)
	t.Setenv("RELAYWIRE_LOG_LEVEL", "")
	cfg, printOnly, err := parseFlags([]string{"-config", "ex.config.toml", "-log-level", "debug"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if printOnly {
		t.Fatalf("print-config not requested")
	}
	if cfg.Log.Level != zerolog.DebugLevel {
		t.Fatalf("flag override not applied: %v", cfg.Log.Level)
	}
	if _, _, err := parseFlags([]string{"-log-level", "chatty"}); err == nil || !strings.Contains(err.Error(), "chatty") {
		t.Fatalf("expected unknown level error, got %v", err)
	}
}

func TestPrintedConfigLoadsBack(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadAppConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	out, err := config.Render(toFile(cfg))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	again, err := loadAppConfig(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("reload rendered config: %v\n%s", err, out)
	}
	if again.Relay != cfg.Relay || again.Name != cfg.Name || again.Log.Level != cfg.Log.Level {
		t.Fatalf("round trip changed config:\n%+v\n%+v", again.Relay, cfg.Relay)
	}
}
