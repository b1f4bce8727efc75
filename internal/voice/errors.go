package voice

import (
	"errors"
	"fmt"
)

// ErrConnectionTimeout is returned when no open acknowledgment arrives
// within the configured connect timeout.
var ErrConnectionTimeout = errors.New("connection open timed out")

// ConfigurationError reports a missing or malformed required config
// field. Fatal: surfaced immediately, never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// ConnectionError wraps a transport-level failure (refused, TLS, DNS).
// The caller decides whether to retry.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "connection: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// DeviceError reports that the capture device is unavailable or access
// was denied. Fatal to the current attempt; not retried automatically.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return "capture device: " + e.Err.Error() }
func (e *DeviceError) Unwrap() error { return e.Err }

// StateError reports an operation attempted in a state that does not
// permit it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// DecodeError reports a playback payload that could not be decoded as
// audio. The session continues.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "audio decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// PlaybackError reports that the output device refused to start or
// render. The session continues.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return "playback: " + e.Err.Error() }
func (e *PlaybackError) Unwrap() error { return e.Err }
