package relay

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed = errors.New("relay: connection closed")
	// ErrPeerClosed is returned by Run when the service hangs up without a
	// close message.
	ErrPeerClosed = errors.New("relay: peer closed the stream")
	// ErrServiceClosed matches a CloseError: the service asked the client to
	// stop and not reconnect.
	ErrServiceClosed = errors.New("relay: closed by service")

	ErrTooManyAttempts = errors.New("relay: connect attempts exhausted")
)

// CloseError carries the reason from a ConnectionClose message.
type CloseError struct {
	Message string
}

func (e *CloseError) Error() string {
	if e.Message == "" {
		return ErrServiceClosed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrServiceClosed, e.Message)
}

func (e *CloseError) Unwrap() error { return ErrServiceClosed }

// ReconnectError is returned by Run when the service asked for a reconnect.
// An empty Endpoint means redial the same address.
type ReconnectError struct {
	TargetID string
	Endpoint string
	Message  string
}

func (e *ReconnectError) Error() string {
	target := e.Endpoint
	if target == "" {
		target = "same endpoint"
	}
	return fmt.Sprintf("relay: reconnect requested (%s): %s", target, e.Message)
}
