package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/danmuck/relaywire/internal/bufpool"
	"github.com/danmuck/relaywire/internal/protocol/cursor"
	"github.com/danmuck/relaywire/internal/protocol/frame"
)

// bodyArity is the slot count the encoder always writes: type, json, content.
const bodyArity = 3

// Metrics receives codec events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FrameEncoded(kind string, bodyBytes int)
	FrameDecoded(kind string, bodyBytes int)
	DecodeFailed(reason string)
}

type nopMetrics struct{}

func (nopMetrics) FrameEncoded(string, int) {}
func (nopMetrics) FrameDecoded(string, int) {}
func (nopMetrics) DecodeFailed(string)      {}

type Option func(*Protocol)

// WithStrict makes unknown discriminators an error instead of a dropped frame.
func WithStrict(strict bool) Option {
	return func(p *Protocol) { p.strict = strict }
}

func WithLimits(limits frame.Limits) Option {
	return func(p *Protocol) { p.limits = limits }
}

func WithPool(pool bufpool.Pool) Option {
	return func(p *Protocol) {
		if pool != nil {
			p.pool = pool
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Protocol) { p.log = logger }
}

func WithMetrics(m Metrics) Option {
	return func(p *Protocol) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Protocol encodes and decodes length-prefixed tunnel frames. It holds no
// per-stream state and is safe for concurrent use.
type Protocol struct {
	strict  bool
	limits  frame.Limits
	pool    bufpool.Pool
	log     zerolog.Logger
	metrics Metrics
}

func New(opts ...Option) *Protocol {
	p := &Protocol{
		limits:  frame.DefaultLimits(),
		pool:    bufpool.Shared,
		log:     zerolog.Nop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Protocol) Strict() bool { return p.strict }

func (p *Protocol) Limits() frame.Limits { return p.limits }

// TryParse decodes the first frame of buf. It returns the message and the
// bytes consumed, or (nil, 0, nil) when buf does not yet hold a whole frame.
// In lenient mode a frame with an unknown discriminator is reported as
// (nil, consumed, nil) so the caller can advance past it.
func (p *Protocol) TryParse(buf []byte) (Message, int, error) {
	body, consumed, err := frame.Split(buf, p.limits)
	if err != nil {
		p.metrics.DecodeFailed("too_large")
		p.log.Warn().Err(err).Msg("tunnel: oversized frame")
		return nil, 0, err
	}
	if consumed == 0 {
		return nil, 0, nil
	}
	msg, err := p.Decode(body)
	if err != nil {
		var unknown UnknownTypeError
		if errors.As(err, &unknown) && !p.strict {
			p.metrics.DecodeFailed("unknown_type")
			p.log.Warn().Int32("type", int32(unknown.Type)).Int("bytes", consumed).Msg("tunnel: dropping frame")
			return nil, consumed, nil
		}
		if errors.As(err, &unknown) {
			p.metrics.DecodeFailed("unknown_type")
		} else {
			p.metrics.DecodeFailed("malformed")
		}
		p.log.Debug().Err(err).Int("bytes", consumed).Msg("tunnel: decode failed")
		return nil, 0, err
	}
	return msg, consumed, nil
}

// ParseRequest reports whether data starts with a complete HttpRequest frame.
func (p *Protocol) ParseRequest(data []byte) (*HTTPRequest, bool) {
	msg, _, err := p.TryParse(data)
	if err != nil {
		return nil, false
	}
	req, ok := msg.(*HTTPRequest)
	return req, ok
}

// ParseResponse reports whether data starts with a complete HttpResponse frame.
func (p *Protocol) ParseResponse(data []byte) (*HTTPResponse, bool) {
	msg, _, err := p.TryParse(data)
	if err != nil {
		return nil, false
	}
	resp, ok := msg.(*HTTPResponse)
	return resp, ok
}

// Decode turns one frame body into a message.
func (p *Protocol) Decode(body []byte) (msg Message, err error) {
	typ := TypeNone
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, &DecodeError{Type: typ, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	root := cursor.NewReader(body)
	arr, err := root.Array()
	if err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	raw, err := arr.Int32("Type")
	if err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	typ = MessageType(raw)
	text, err := arr.Text("Json")
	if err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	content, err := arr.OptionalBytes("Content")
	if err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	if err := arr.End(); err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}

	msg, err = NewMessage(typ)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(text), msg); err != nil {
		return nil, &DecodeError{Type: typ, Err: fmt.Errorf("json: %w", err)}
	}
	msg.Header().Kind = typ
	if c, ok := msg.(ContentMessage); ok {
		c.SetBody(content)
	}
	normalize(msg)
	p.metrics.FrameDecoded(typ.String(), len(body))
	return msg, nil
}

// Encode returns msg as one complete frame.
func (p *Protocol) Encode(msg Message) ([]byte, error) {
	acc := bufpool.NewAccumulator(p.pool)
	defer acc.Release()
	if err := p.encodeBody(acc, msg); err != nil {
		return nil, err
	}
	out, err := frame.Append(make([]byte, 0, frame.PrefixLen+acc.Len()), acc.Bytes(), p.limits)
	if err != nil {
		return nil, err
	}
	p.metrics.FrameEncoded(msg.Type().String(), acc.Len())
	return out, nil
}

// WriteMessage writes msg as one frame to w and returns the bytes written.
func (p *Protocol) WriteMessage(w io.Writer, msg Message) (int, error) {
	acc := bufpool.NewAccumulator(p.pool)
	defer acc.Release()
	if err := p.encodeBody(acc, msg); err != nil {
		return 0, err
	}
	if err := frame.WriteFrame(w, acc.Bytes(), p.limits); err != nil {
		return 0, err
	}
	p.metrics.FrameEncoded(msg.Type().String(), acc.Len())
	return frame.PrefixLen + acc.Len(), nil
}

// ReadMessage blocks until one frame is read from r and decodes it. Unknown
// discriminators follow the same lenient/strict rule as TryParse; a dropped
// frame is reported as (nil, nil).
func (p *Protocol) ReadMessage(r io.Reader) (Message, error) {
	body, err := frame.ReadFrame(r, p.limits)
	if err != nil {
		return nil, err
	}
	msg, err := p.Decode(body)
	var unknown UnknownTypeError
	if err != nil && errors.As(err, &unknown) && !p.strict {
		p.log.Warn().Int32("type", int32(unknown.Type)).Msg("tunnel: dropping frame")
		return nil, nil
	}
	return msg, err
}

func (p *Protocol) encodeBody(acc *bufpool.Accumulator, msg Message) error {
	if isNil(msg) {
		return ErrNilMessage
	}
	msg = stamped(msg)
	text, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("tunnel: encode %s: %w", msg.Type(), err)
	}
	w := cursor.NewWriter(bufpool.NewStream(acc))
	arr := w.Array(bodyArity).Int32(int32(msg.Type())).Text(string(text))
	if c, ok := msg.(ContentMessage); ok {
		arr.Bytes(c.Body())
	} else {
		arr.Nil()
	}
	if err := arr.End(); err != nil {
		return fmt.Errorf("tunnel: encode %s: %w", msg.Type(), err)
	}
	return nil
}

func isNil(msg Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// stamped returns msg with Kind matching Type(). A message whose header is
// already correct is returned as is; otherwise a shallow copy is stamped so
// the caller's value is left untouched.
func stamped(msg Message) Message {
	if msg.Header().Kind == msg.Type() {
		return msg
	}
	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Pointer {
		return msg
	}
	cp := reflect.New(v.Elem().Type())
	cp.Elem().Set(v.Elem())
	out := cp.Interface().(Message)
	out.Header().Kind = msg.Type()
	return out
}
