package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAuthToken means no bearer credential was available; the channel
	// is never opened in that case.
	ErrNoAuthToken = errors.New("no auth token")

	// ErrNotConnected is returned by operations that require an open
	// signaling channel.
	ErrNotConnected = errors.New("not connected to a voice session")

	// ErrConnectTimeout means the connect attempt exceeded its time budget.
	ErrConnectTimeout = errors.New("voice session connection timeout")

	// ErrChannelClosed rejects every request still in flight when the
	// signaling channel goes away.
	ErrChannelClosed = errors.New("signaling channel closed")
)

// SignalError is an ack that carried {error: ...} instead of a result.
type SignalError struct {
	Method string
	Reason string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signaling %q failed: %s", e.Method, e.Reason)
}
