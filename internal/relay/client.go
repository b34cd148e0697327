package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/relaywire/internal/observability"
)

// Dialer opens the byte stream to a relay endpoint.
type Dialer func(ctx context.Context, address string) (io.ReadWriteCloser, error)

// TCPDialer dials plain TCP.
func TCPDialer() Dialer {
	var d net.Dialer
	return func(ctx context.Context, address string) (io.ReadWriteCloser, error) {
		return d.DialContext(ctx, "tcp", address)
	}
}

// Client keeps a relay connection open: it redials with backoff after a lost
// stream, follows reconnect requests to a new endpoint, opens an extra
// connection per rebalance endpoint and stops when the service closes it.
type Client struct {
	cfg  Config
	opts options
	log  zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	active   map[string]struct{}
	wg       sync.WaitGroup
	primary  string
	userHook func(endpoint string)
}

func NewClient(cfg Config, opts ...Option) *Client {
	o := buildOptions(opts)
	if o.dialer == nil {
		o.dialer = TCPDialer()
	}
	c := &Client{
		cfg:      cfg.withDefaults(),
		opts:     o,
		log:      o.logger,
		active:   map[string]struct{}{},
		userHook: o.onRebalance,
	}
	return c
}

func (c *Client) Stats() *Stats { return c.opts.stats }

// Run blocks until ctx is done, Close is called, the service closes the
// primary connection (a *CloseError) or MaxConnectAttempts consecutive dials
// fail (ErrTooManyAttempts).
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	err := c.runEndpoint(ctx, c.cfg.Address, true)
	cancel()
	c.wg.Wait()
	if errors.Is(err, context.Canceled) && c.closedByCaller() {
		return nil
	}
	return err
}

// Close stops Run and every connection it opened.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		c.log.Info().Msg("relay: client closing")
		cancel()
	}
}

func (c *Client) closedByCaller() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel == nil
}

func (c *Client) runEndpoint(ctx context.Context, address string, primary bool) error {
	backoff := NewBackoff(c.cfg.Backoff, c.opts.seed)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if primary {
			c.setPrimary(address)
		}
		log := c.log.With().Str("endpoint", address).Bool("primary", primary).Logger()

		c.opts.stats.dials.Add(1)
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		rw, err := c.opts.dialer(dialCtx, address)
		cancel()
		if err != nil {
			c.opts.stats.dialFailures.Add(1)
			c.opts.stats.setError(err)
			observability.RecordConnection("dial_failed")
			attempt := backoff.Attempts() + 1
			if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
				log.Error().Err(err).Int("attempt", attempt).Msg("relay: giving up")
				return fmt.Errorf("%w: %s after %d attempts: %v", ErrTooManyAttempts, address, attempt, err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("relay: dial failed")
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		backoff.Reset()

		conn := newConn(rw, c.cfg, c.connOptions(ctx, log))
		c.opts.stats.active.Add(1)
		observability.RecordConnection("open")
		err = conn.Run(ctx)
		c.opts.stats.active.Add(-1)
		observability.RecordConnection("closed")

		var reconnect *ReconnectError
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			return nil
		case errors.Is(err, ErrServiceClosed):
			return err
		case errors.As(err, &reconnect):
			observability.RecordConnection("reconnect")
			if reconnect.Endpoint != "" {
				address = reconnect.Endpoint
			}
			continue
		default:
			c.opts.stats.setError(err)
			observability.RecordConnection("lost")
			log.Warn().Err(err).Msg("relay: connection lost")
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Client) connOptions(ctx context.Context, log zerolog.Logger) options {
	o := c.opts
	o.logger = log
	o.onRebalance = func(endpoint string) {
		if c.userHook != nil {
			c.userHook(endpoint)
		}
		c.rebalance(ctx, endpoint)
	}
	return o
}

// rebalance opens one extra connection per endpoint not already in use.
func (c *Client) rebalance(ctx context.Context, endpoint string) {
	c.mu.Lock()
	if _, ok := c.active[endpoint]; ok || endpoint == c.primary {
		c.mu.Unlock()
		return
	}
	c.active[endpoint] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	observability.RecordConnection("rebalance")
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.active, endpoint)
			c.mu.Unlock()
		}()
		if err := c.runEndpoint(ctx, endpoint, false); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Info().Err(err).Str("endpoint", endpoint).Msg("relay: rebalanced connection ended")
		}
	}()
}

func (c *Client) setPrimary(address string) {
	c.mu.Lock()
	c.primary = address
	c.mu.Unlock()
	c.opts.stats.setEndpoint(address)
}
