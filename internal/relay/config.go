package relay

import (
	"time"

	"github.com/danmuck/relaywire/internal/protocol/frame"
)

// BackoffConfig defines redial backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines relay connection defaults.
type Config struct {
	// Address is the relay service endpoint dialed by the client.
	Address string
	// UpstreamURL is the local server tunnelled requests are forwarded to.
	UpstreamURL    string
	Strict         bool
	MaxFrameBytes  uint32
	MaxInflight    int64
	SendQueue      int
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// MaxConnectAttempts bounds consecutive failed dials; 0 retries forever.
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:7070",
		UpstreamURL:    "http://127.0.0.1:8080",
		MaxFrameBytes:  frame.MaxLength,
		MaxInflight:    32,
		SendQueue:      64,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// Limits returns the frame limits the relay codec enforces.
func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxBodyBytes: c.MaxFrameBytes}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxInflight <= 0 {
		c.MaxInflight = def.MaxInflight
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	return c
}
