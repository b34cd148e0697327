// Package config describes the relayctl TOML file: its on-disk schema, the
// template written by configgen and a strict validator.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/relaywire/internal/logging"
	"github.com/danmuck/relaywire/internal/relay"
)

type Backoff struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type Log struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

// File is the relayctl config file. Durations are Go duration strings.
type File struct {
	Name               string   `toml:"name"`
	RelayAddress       string   `toml:"relay_address"`
	UpstreamURL        string   `toml:"upstream_url"`
	AdminListen        string   `toml:"admin_listen"`
	AdminToken         string   `toml:"admin_token"`
	CORSOrigins        []string `toml:"cors_origins"`
	Strict             bool     `toml:"strict"`
	MaxFrameBytes      int64    `toml:"max_frame_bytes"`
	MaxInflight        int64    `toml:"max_inflight"`
	SendQueue          int      `toml:"send_queue"`
	DialTimeout        string   `toml:"dial_timeout"`
	RequestTimeout     string   `toml:"request_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	Backoff            Backoff  `toml:"backoff"`
	Log                Log      `toml:"log"`
}

const (
	DefaultName        = "relayctl"
	DefaultAdminListen = "127.0.0.1:7071"
)

// Defaults renders the built-in relay and logging defaults as a File.
func Defaults() File {
	r := relay.DefaultConfig()
	l := logging.DefaultConfig(logging.ProfileRuntime)
	return File{
		Name:               DefaultName,
		RelayAddress:       r.Address,
		UpstreamURL:        r.UpstreamURL,
		AdminListen:        DefaultAdminListen,
		CORSOrigins:        []string{"http://localhost:3000"},
		Strict:             r.Strict,
		MaxFrameBytes:      int64(r.MaxFrameBytes),
		MaxInflight:        r.MaxInflight,
		SendQueue:          r.SendQueue,
		DialTimeout:        r.DialTimeout.String(),
		RequestTimeout:     r.RequestTimeout.String(),
		MaxConnectAttempts: r.MaxConnectAttempts,
		Backoff: Backoff{
			Initial:    r.Backoff.InitialDelay.String(),
			Multiplier: r.Backoff.Multiplier,
			Max:        r.Backoff.MaxDelay.String(),
			Jitter:     r.Backoff.Jitter,
		},
		Log: Log{
			Level:     l.Level.String(),
			Timestamp: l.Timestamp,
			NoColor:   l.NoColor,
		},
	}
}

// Render encodes f as TOML.
func Render(f File) ([]byte, error) {
	out, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

// WriteTemplate writes the defaults to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Render(Defaults())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate decodes path strictly (unknown keys are errors) and checks the
// values relayctl cannot start without.
func Validate(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateFile(f); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return f, nil
}

func ValidateFile(f File) error {
	if strings.TrimSpace(f.RelayAddress) == "" {
		return fmt.Errorf("relay_address is required")
	}
	if strings.TrimSpace(f.UpstreamURL) == "" {
		return fmt.Errorf("upstream_url is required")
	}
	u, err := url.Parse(strings.TrimSpace(f.UpstreamURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream_url %q needs scheme and host", f.UpstreamURL)
	}
	for key, raw := range map[string]string{
		"dial_timeout":    f.DialTimeout,
		"request_timeout": f.RequestTimeout,
		"backoff.initial": f.Backoff.Initial,
		"backoff.max":     f.Backoff.Max,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if f.Log.Level != "" {
		if _, ok := logging.ParseLevel(f.Log.Level); !ok {
			return fmt.Errorf("log.level: unknown level %q", f.Log.Level)
		}
	}
	return nil
}
