package msgpack

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed      = errors.New("msgpack: malformed value")
	ErrTruncated      = errors.New("msgpack: truncated data")
	ErrUnexpectedCode = errors.New("msgpack: unexpected code")
	ErrOverflow       = errors.New("msgpack: value out of range")
	ErrUnsupportedExt = errors.New("msgpack: unsupported extension type")
	ErrInvalidKey     = errors.New("msgpack: map key is not a string")
	ErrTooDeep        = errors.New("msgpack: nesting too deep")
)

// DecodeError reports a failed read. Path is the dotted field path when the
// caller supplied one. It matches ErrMalformed and its cause with errors.Is.
type DecodeError struct {
	Path   string
	Offset int
	Code   byte
	Err    error
	Detail string
}

func (e *DecodeError) Error() string {
	field := e.Path
	if field == "" {
		field = "<root>"
	}
	msg := fmt.Sprintf("msgpack: field %s is invalid at offset %d: %v", field, e.Offset, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	return []error{e.Err, ErrMalformed}
}

func decodeErr(path string, offset int, code byte, cause error, detail string) error {
	return &DecodeError{Path: path, Offset: offset, Code: code, Err: cause, Detail: detail}
}
