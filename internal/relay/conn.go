// Package relay drives the tunnel codec over a live byte stream: it reads
// frames into a pooled accumulation buffer, dispatches each message by
// variant, forwards HTTP requests to an upstream and queues the responses.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/danmuck/relaywire/internal/bufpool"
	"github.com/danmuck/relaywire/internal/protocol/tunnel"
)

// readChunk is the minimum free space offered to each Read.
const readChunk = 4096

type options struct {
	handler     Handler
	logger      zerolog.Logger
	stats       *Stats
	pool        bufpool.Pool
	metrics     tunnel.Metrics
	dialer      Dialer
	onRebalance func(endpoint string)
	seed        int64
}

type Option func(*options)

func WithHandler(h Handler) Option {
	return func(o *options) { o.handler = h }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithStats(s *Stats) Option {
	return func(o *options) {
		if s != nil {
			o.stats = s
		}
	}
}

func WithPool(p bufpool.Pool) Option {
	return func(o *options) {
		if p != nil {
			o.pool = p
		}
	}
}

// WithMetrics feeds codec events of every connection into m.
func WithMetrics(m tunnel.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithRebalance is called with the endpoint of each ConnectionRebalance.
func WithRebalance(fn func(endpoint string)) Option {
	return func(o *options) { o.onRebalance = fn }
}

// WithSeed fixes the backoff jitter source.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zerolog.Nop(),
		pool:   bufpool.Shared,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stats == nil {
		o.stats = &Stats{}
	}
	if o.handler == nil {
		o.handler = unavailable{}
	}
	return o
}

// unavailable answers every request with 503 when no upstream is configured.
type unavailable struct{}

func (unavailable) ServeTunnel(_ context.Context, req *tunnel.HTTPRequest, w ResponseWriter) {
	_ = w(&tunnel.HTTPResponse{
		AckID:        req.AckID,
		LocalRouting: req.LocalRouting,
		StatusCode:   http.StatusServiceUnavailable,
		ChannelName:  req.ChannelName,
		Headers:      map[string][]string{},
		Content:      []byte("no upstream configured"),
	})
}

// Conn is one relay connection. Run owns the read and write loops; Send and
// Close may be called from any goroutine.
type Conn struct {
	id      string
	rw      io.ReadWriteCloser
	proto   *tunnel.Protocol
	cfg     Config
	opts    options
	log     zerolog.Logger
	sendMsg chan []byte
	sem     *semaphore.Weighted
	done    chan struct{}
	closed  atomic.Bool
}

// NewConn wraps rw. The codec is configured from cfg (strict mode, frame
// limit) and shares the pool and metrics given in opts.
func NewConn(rw io.ReadWriteCloser, cfg Config, opts ...Option) *Conn {
	return newConn(rw, cfg.withDefaults(), buildOptions(opts))
}

func newConn(rw io.ReadWriteCloser, cfg Config, o options) *Conn {
	id := uuid.NewString()
	logger := o.logger.With().Str("conn", id).Logger()
	protoOpts := []tunnel.Option{
		tunnel.WithStrict(cfg.Strict),
		tunnel.WithLimits(cfg.Limits()),
		tunnel.WithPool(o.pool),
		tunnel.WithLogger(logger),
	}
	if o.metrics != nil {
		protoOpts = append(protoOpts, tunnel.WithMetrics(o.metrics))
	}
	return &Conn{
		id:      id,
		rw:      rw,
		proto:   tunnel.New(protoOpts...),
		cfg:     cfg,
		opts:    o,
		log:     logger,
		sendMsg: make(chan []byte, cfg.SendQueue),
		sem:     semaphore.NewWeighted(cfg.MaxInflight),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) IsClosed() bool { return c.closed.Load() }

// Run starts the read and write loops and blocks until the connection ends.
// It returns nil after a local Close, ctx.Err() after cancellation, a
// *CloseError or *ReconnectError when the service ends the connection, and
// the codec or I/O error otherwise. The stream is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.log.Info().Msg("relay: connection established")
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, child := errgroup.WithContext(runCtx)

	group.Go(func() error {
		defer c.Close()
		defer cancel()
		return c.readLoop(child, group)
	})
	group.Go(func() error {
		return c.writeLoop(child)
	})
	group.Go(func() error {
		select {
		case <-child.Done():
			c.Close()
		case <-c.done:
		}
		return nil
	})

	err := group.Wait()
	c.Close()
	if err == nil {
		err = ctx.Err()
	}

	switch {
	case err == nil:
		c.log.Info().Msg("relay: connection closed")
	case errors.Is(err, context.Canceled):
		c.log.Info().Msg("relay: connection cancelled")
	default:
		c.log.Info().Err(err).Msg("relay: connection closed with error")
	}
	return err
}

// Close stops the loops and closes the stream. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	return c.rw.Close()
}

// Send encodes msg and queues it, blocking while the queue is full.
func (c *Conn) Send(ctx context.Context, msg tunnel.Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	data, err := c.proto.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.sendMsg <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) readLoop(ctx context.Context, group *errgroup.Group) error {
	acc := bufpool.NewAccumulator(c.opts.pool)
	defer acc.Release()
	for {
		span, err := acc.GetSpan(readChunk)
		if err != nil {
			return fmt.Errorf("relay: read buffer: %w", err)
		}
		n, rerr := c.rw.Read(span)
		if n > 0 {
			acc.Advance(n)
			c.opts.stats.bytesIn.Add(int64(n))
			if err := c.drain(ctx, group, acc); err != nil {
				return err
			}
		}
		if rerr != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			if errors.Is(rerr, io.EOF) {
				if acc.Len() > 0 {
					return fmt.Errorf("%w with %d bytes of a partial frame", ErrPeerClosed, acc.Len())
				}
				return ErrPeerClosed
			}
			return fmt.Errorf("relay: read: %w", rerr)
		}
	}
}

// drain parses every complete frame buffered in acc.
func (c *Conn) drain(ctx context.Context, group *errgroup.Group, acc *bufpool.Accumulator) error {
	for {
		msg, consumed, err := c.proto.TryParse(acc.Bytes())
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		if consumed == 0 {
			return nil
		}
		acc.Consume(consumed)
		if msg == nil {
			continue
		}
		if err := c.dispatch(ctx, group, msg); err != nil {
			return err
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, group *errgroup.Group, msg tunnel.Message) error {
	switch m := msg.(type) {
	case *tunnel.HTTPRequest:
		c.opts.stats.requests.Add(1)
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		group.Go(func() error {
			defer c.sem.Release(1)
			c.serve(ctx, m)
			return nil
		})
	case *tunnel.ConnectionClose:
		c.opts.stats.closes.Add(1)
		c.log.Info().Str("reason", m.Message).Msg("relay: close requested by service")
		return &CloseError{Message: m.Message}
	case *tunnel.ConnectionReconnect:
		c.opts.stats.reconnects.Add(1)
		c.log.Info().Str("endpoint", m.Endpoint).Str("target", m.TargetID).Str("reason", m.Message).Msg("relay: reconnect requested by service")
		return &ReconnectError{TargetID: m.TargetID, Endpoint: m.Endpoint, Message: m.Message}
	case *tunnel.ConnectionRebalance:
		c.opts.stats.rebalances.Add(1)
		c.log.Info().Str("endpoint", m.Endpoint).Str("reason", m.Message).Msg("relay: rebalance requested by service")
		if m.Endpoint != "" && c.opts.onRebalance != nil {
			c.opts.onRebalance(m.Endpoint)
		}
	case *tunnel.ConnectionConnected:
		c.opts.stats.setConnectionID(m.ConnectionID)
		c.log.Info().Str("connection_id", m.ConnectionID).Msg("relay: connected")
	case *tunnel.ServiceStatus:
		c.log.Info().Str("status", m.Message).Msg("relay: service status")
	default:
		c.log.Info().Stringer("type", msg.Type()).Msg("relay: message type not supported")
	}
	return nil
}

func (c *Conn) serve(ctx context.Context, req *tunnel.HTTPRequest) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	c.opts.handler.ServeTunnel(reqCtx, req, func(resp *tunnel.HTTPResponse) error {
		if err := c.Send(ctx, resp); err != nil {
			c.opts.stats.dropped.Add(1)
			c.log.Warn().Err(err).Int32("ack_id", req.AckID).Msg("relay: response dropped")
			return err
		}
		if !resp.NotCompleted {
			c.opts.stats.responses.Add(1)
		}
		return nil
	})
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case data := <-c.sendMsg:
			if _, err := c.rw.Write(data); err != nil {
				if c.closed.Load() {
					return nil
				}
				return fmt.Errorf("relay: write: %w", err)
			}
			c.opts.stats.bytesOut.Add(int64(len(data)))
		}
	}
}
