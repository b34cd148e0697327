package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// PrefixLen is the size of the little-endian length prefix.
	PrefixLen = 4
	// MaxLength is the largest body a peer may send.
	MaxLength = 1 << 20
)

var (
	ErrFrameTooLarge = errors.New("frame: body too large")
	ErrShortPrefix   = errors.New("frame: short length prefix")
	ErrShortBody     = errors.New("frame: short body")
)

// Status reports whether a buffer holds a whole frame.
type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "incomplete"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxBodyBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxBodyBytes: MaxLength}
}

func (l Limits) max() uint32 {
	if l.MaxBodyBytes == 0 {
		return MaxLength
	}
	return l.MaxBodyBytes
}

// SizeError names the declared length of an oversized frame. It matches
// ErrFrameTooLarge.
type SizeError struct {
	Length uint32
	Max    uint32
}

func (e SizeError) Error() string {
	return fmt.Sprintf("frame: body length %d exceeds limit %d", e.Length, e.Max)
}

func (e SizeError) Unwrap() error { return ErrFrameTooLarge }

// Peek inspects the prefix of buf. A buffer holding only the prefix is
// incomplete even for a zero-length body.
func Peek(buf []byte, limits Limits) (int, Status, error) {
	if len(buf) <= PrefixLen {
		return 0, StatusIncomplete, nil
	}
	length := binary.LittleEndian.Uint32(buf[:PrefixLen])
	if length > limits.max() {
		return 0, StatusIncomplete, SizeError{Length: length, Max: limits.max()}
	}
	if uint64(len(buf)) < PrefixLen+uint64(length) {
		return int(length), StatusIncomplete, nil
	}
	return int(length), StatusComplete, nil
}

// Split returns the first complete body in buf and the bytes it occupies,
// prefix included. An incomplete buffer yields nil, 0, nil. The body
// aliases buf.
func Split(buf []byte, limits Limits) ([]byte, int, error) {
	n, status, err := Peek(buf, limits)
	if err != nil || status != StatusComplete {
		return nil, 0, err
	}
	return buf[PrefixLen : PrefixLen+n], PrefixLen + n, nil
}

// Append appends the prefixed body to dst.
func Append(dst, body []byte, limits Limits) ([]byte, error) {
	if uint64(len(body)) > uint64(limits.max()) {
		return dst, SizeError{Length: clampLen(len(body)), Max: limits.max()}
	}
	var prefix [PrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	dst = append(dst, prefix[:]...)
	return append(dst, body...), nil
}

// WriteFrame writes one prefixed body to w.
func WriteFrame(w io.Writer, body []byte, limits Limits) error {
	if uint64(len(body)) > uint64(limits.max()) {
		return SizeError{Length: clampLen(len(body)), Max: limits.max()}
	}
	var prefix [PrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame blocks until one whole frame is read from r and returns its
// body. A clean EOF before any prefix byte is returned as io.EOF.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPrefix
		}
		return nil, err
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > limits.max() {
		return nil, SizeError{Length: length, Max: limits.max()}
	}
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrShortBody
			}
			return nil, err
		}
	}
	return body, nil
}

func clampLen(n int) uint32 {
	if uint64(n) > 0xffffffff {
		return 0xffffffff
	}
	return uint32(n)
}
