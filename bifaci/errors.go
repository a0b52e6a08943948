package bifaci

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a transport that has been closed.
var ErrClosed = errors.New("bifaci: transport closed")

// ProtocolErrorType classifies fatal framing failures.
type ProtocolErrorType int

const (
	ProtocolErrorFrameTooLarge ProtocolErrorType = iota
	ProtocolErrorInvalidUtf8
	ProtocolErrorInvalidPayload
)

func (t ProtocolErrorType) String() string {
	switch t {
	case ProtocolErrorFrameTooLarge:
		return "FrameTooLarge"
	case ProtocolErrorInvalidUtf8:
		return "InvalidUtf8"
	case ProtocolErrorInvalidPayload:
		return "InvalidPayload"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ProtocolError is a framing violation. It is fatal for the transport that
// observed it: the decoder fails closed and discards all further input.
type ProtocolError struct {
	Type    ProtocolErrorType
	Message string
}

func (e *ProtocolError) Error() string {
	switch e.Type {
	case ProtocolErrorFrameTooLarge:
		return fmt.Sprintf("frame too large: %s", e.Message)
	case ProtocolErrorInvalidUtf8:
		return fmt.Sprintf("invalid utf-8 payload: %s", e.Message)
	case ProtocolErrorInvalidPayload:
		return fmt.Sprintf("invalid payload: %s", e.Message)
	default:
		return fmt.Sprintf("protocol error: %s", e.Message)
	}
}

func newFrameTooLargeError(length uint64, limit int) *ProtocolError {
	return &ProtocolError{
		Type:    ProtocolErrorFrameTooLarge,
		Message: fmt.Sprintf("%d bytes exceeds limit %d", length, limit),
	}
}

// TransportErrorType classifies transport and process lifecycle failures.
type TransportErrorType int

const (
	TransportErrorIo TransportErrorType = iota
	TransportErrorClosed
	TransportErrorSpawn
	TransportErrorProcessExited
)

// TransportError reports a failure of the connection itself. Unlike
// protocol-level replies these are never recoverable for the connection.
type TransportError struct {
	Type    TransportErrorType
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	var msg string
	switch e.Type {
	case TransportErrorIo:
		msg = "I/O error: " + e.Message
	case TransportErrorClosed:
		msg = "transport is closed"
	case TransportErrorSpawn:
		msg = "spawn failed: " + e.Message
	case TransportErrorProcessExited:
		msg = "agent process exited: " + e.Message
	default:
		msg = "transport error: " + e.Message
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrClosed) match closed-transport errors.
func (e *TransportError) Is(target error) bool {
	return target == ErrClosed && e.Type == TransportErrorClosed
}
