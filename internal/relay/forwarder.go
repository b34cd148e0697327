package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/relaywire/internal/observability"
	"github.com/danmuck/relaywire/internal/protocol/tunnel"
)

// ResponseWriter queues one response frame for the request being served.
type ResponseWriter func(resp *tunnel.HTTPResponse) error

// Handler answers tunnelled HTTP requests through w. A body too large for one
// frame goes out as several responses with NotCompleted set on all but the
// last. Writing nothing sends nothing.
type Handler interface {
	ServeTunnel(ctx context.Context, req *tunnel.HTTPRequest, w ResponseWriter)
}

type HandlerFunc func(ctx context.Context, req *tunnel.HTTPRequest, w ResponseWriter)

func (f HandlerFunc) ServeTunnel(ctx context.Context, req *tunnel.HTTPRequest, w ResponseWriter) {
	f(ctx, req, w)
}

// responseOverhead is reserved in a frame for the response JSON.
const responseOverhead = 64 << 10

var errUpstreamBody = errors.New("relay: reading upstream body")

// Forwarder replays tunnelled requests against a local upstream server.
type Forwarder struct {
	upstream *url.URL
	client   *http.Client
	chunk    int
	log      zerolog.Logger
}

// NewForwarder targets upstream (scheme and host are taken from it, path and
// query from each request). maxFrame sizes the body chunk carried by each
// response frame; 0 keeps the frame default.
func NewForwarder(upstream string, client *http.Client, maxFrame uint32, logger zerolog.Logger) (*Forwarder, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("relay: upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay: upstream url %q needs scheme and host", upstream)
	}
	if client == nil {
		client = &http.Client{}
	}
	limit := int64(DefaultConfig().MaxFrameBytes)
	if maxFrame > 0 {
		limit = int64(maxFrame)
	}
	if limit <= responseOverhead {
		return nil, fmt.Errorf("relay: max frame %d leaves no room for a response body", limit)
	}
	return &Forwarder{upstream: u, client: client, chunk: int(limit - responseOverhead), log: logger}, nil
}

func (f *Forwarder) ServeTunnel(ctx context.Context, req *tunnel.HTTPRequest, w ResponseWriter) {
	start := time.Now()
	resp := &tunnel.HTTPResponse{
		AckID:        req.AckID,
		LocalRouting: req.LocalRouting,
		ChannelName:  req.ChannelName,
		Headers:      map[string][]string{},
	}
	resp.TracingID = req.TracingID

	target, err := f.target(req.URL)
	if err != nil {
		f.fail(w, resp, req, err, start)
		return
	}
	f.log.Debug().Int32("ack_id", req.AckID).Str("method", req.HTTPMethod).Str("target", target).Msg("forwarding request")

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, target, bytes.NewReader(req.Content))
	if err != nil {
		f.fail(w, resp, req, err, start)
		return
	}
	for key, values := range req.Headers {
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	out, err := f.client.Do(httpReq)
	if err != nil {
		f.fail(w, resp, req, err, start)
		return
	}
	defer out.Body.Close()

	resp.StatusCode = int32(out.StatusCode)
	for key, values := range out.Header {
		resp.Headers[key] = append([]string(nil), values...)
	}
	frames, err := f.stream(w, resp, out.Body)
	if errors.Is(err, errUpstreamBody) {
		f.fail(w, resp, req, err, start)
		return
	}
	if err != nil {
		f.log.Warn().Err(err).Int32("ack_id", req.AckID).Int("frames", frames).Msg("response stream cut short")
	}
	f.record(req, resp, frames, start)
}

// stream sends body in chunks sized to the frame budget. Headers ride on the
// first frame only. Once a frame is out the status is committed, so a later
// read failure ends the response with what was read.
func (f *Forwarder) stream(w ResponseWriter, head *tunnel.HTTPResponse, body io.Reader) (int, error) {
	br := bufio.NewReader(body)
	frames := 0
	for {
		buf, readErr := io.ReadAll(io.LimitReader(br, int64(f.chunk)))
		if readErr != nil && frames == 0 {
			return 0, fmt.Errorf("%w: %w", errUpstreamBody, readErr)
		}
		more := false
		if readErr == nil && len(buf) == f.chunk {
			_, peekErr := br.Peek(1)
			more = peekErr == nil
			if peekErr != nil && peekErr != io.EOF {
				readErr = peekErr
			}
		}

		part := *head
		if frames > 0 {
			part.Headers = nil
		}
		part.Content = buf
		part.NotCompleted = more
		if err := w(&part); err != nil {
			return frames, err
		}
		frames++
		if !more {
			return frames, readErr
		}
	}
}

// target rewrites a request URL onto the upstream. Relative URLs are accepted.
func (f *Forwarder) target(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = f.upstream.Scheme
	u.Host = f.upstream.Host
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func (f *Forwarder) fail(w ResponseWriter, resp *tunnel.HTTPResponse, req *tunnel.HTTPRequest, err error, start time.Time) {
	f.log.Error().Err(err).Int32("ack_id", req.AckID).Str("url", req.URL).Msg("forward failed")
	resp.StatusCode = http.StatusInternalServerError
	resp.Headers = map[string][]string{"Content-Type": {"text/plain; charset=utf-8"}}
	resp.Content = []byte(err.Error())
	if werr := w(resp); werr != nil {
		f.log.Debug().Err(werr).Int32("ack_id", req.AckID).Msg("error response not sent")
	}
	f.record(req, resp, 1, start)
}

func (f *Forwarder) record(req *tunnel.HTTPRequest, resp *tunnel.HTTPResponse, frames int, start time.Time) {
	elapsed := time.Since(start)
	observability.RecordForward(req.HTTPMethod, int(resp.StatusCode), elapsed)
	f.log.Info().
		Int32("ack_id", req.AckID).
		Str("method", req.HTTPMethod).
		Str("url", req.URL).
		Int32("status", resp.StatusCode).
		Int("frames", frames).
		Dur("elapsed", elapsed).
		Msg("forwarded")
}
