package tunnel

import (
	"errors"
	"fmt"

	"github.com/danmuck/relaywire/internal/protocol/frame"
	"github.com/danmuck/relaywire/internal/protocol/msgpack"
)

var (
	ErrFrameTooLarge = frame.ErrFrameTooLarge
	ErrMalformed     = msgpack.ErrMalformed
	ErrUnknownType   = errors.New("tunnel: unknown message type")
	ErrNilMessage    = errors.New("tunnel: nil message")
)

// UnknownTypeError names a discriminator with no variant.
type UnknownTypeError struct {
	Type MessageType
}

func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("tunnel: message type %d is not supported", int32(e.Type))
}

func (e UnknownTypeError) Unwrap() error { return ErrUnknownType }

// DecodeError wraps a body that framed correctly but could not be turned
// into a message. It matches ErrMalformed.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tunnel: decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{e.Err, ErrMalformed}
}
