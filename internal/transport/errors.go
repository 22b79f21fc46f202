package transport

import (
	"errors"
	"fmt"
)

var errSendBufferFull = errors.New("send buffer full")

// ConfigurationError reports input that cannot start a connection.
// It is fatal to Start, not the process.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "transport: " + e.Reason
}

// NotConnectedError reports a send attempted while the connection is not
// in the Connected state. Surfaced synchronously so the caller can keep
// the user's input and retry.
type NotConnectedError struct {
	State State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("transport: not connected (state %s)", e.State)
}

// ConnectionError reports a recoverable transport-level failure. It is
// logged and converted into a reconnect attempt, never propagated as a
// fatal fault.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
