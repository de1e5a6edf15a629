// Package transport carries textual motion commands to the firmware and
// waits for the single acknowledgement line each command produces. The
// rest of the system only depends on this send-line/await-ack capability,
// never on a specific serial library.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrAckTimeout is returned when no acknowledgement arrives within
	// the deadline. Commands failing this way may be retried verbatim.
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")

	// ErrDeviceFault is returned when the firmware acknowledges with a
	// fault payload (endstop fault, driver error). Never retried.
	ErrDeviceFault = errors.New("device reported fault")

	// ErrConnectionLost is returned when the underlying channel fails.
	// The robot treats this as a disconnect and drops its homed state.
	ErrConnectionLost = errors.New("connection lost")
)

// Transport is one request/acknowledge channel to the firmware. Send
// blocks until the command is acknowledged, faulted, or the timeout
// elapses. Query additionally returns the report line a query command
// (such as M114) produces before its acknowledgement.
type Transport interface {
	Send(line string, timeout time.Duration) error
	Query(line string, timeout time.Duration) (string, error)
	Close() error
}
