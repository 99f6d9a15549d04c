package routeros

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in the protocol's error handling
// design. Use errors.Is to test for these.
var (
	// ErrConnectionRefused is returned by Dial/DialContext when the
	// transport could not be established.
	ErrConnectionRefused = errors.New("routeros: connection refused")
	// ErrTLSHandshakeFailed is returned by Dial/DialContext when a TLS
	// handshake fails.
	ErrTLSHandshakeFailed = errors.New("routeros: tls handshake failed")
	// ErrConnectionTimeout is returned when a connect attempt or an idle
	// connection exceeds its configured timeout.
	ErrConnectionTimeout = errors.New("routeros: connection timeout")
	// ErrLoginRejected is returned by Dial/DialContext when the router
	// rejects the login handshake.
	ErrLoginRejected = errors.New("routeros: login rejected")
	// ErrConnectionLost is surfaced to every open Channel/Stream when the
	// transport closes or resets.
	ErrConnectionLost = errors.New("routeros: connection lost")
	// ErrNotConnected is returned by Write/Stream calls issued after the
	// connection has been closed.
	ErrNotConnected = errors.New("routeros: not connected")
	// ErrStreamClosed is returned by Pause/Resume on a stream that has
	// already reached a terminal state (Stop is a no-op there instead).
	ErrStreamClosed = errors.New("routeros: stream closed")
	// ErrUnregisteredTag marks a sentence the router tagged with an
	// unknown tag; non-fatal, the sentence is dropped.
	ErrUnregisteredTag = errors.New("routeros: unregistered tag")
	// ErrProtocolViolation marks a malformed byte stream; fatal to the
	// connection.
	ErrProtocolViolation = errors.New("routeros: protocol violation")
)

// TrapError is a command-scoped !trap reply. It does not affect the
// connection or any other in-flight command.
type TrapError struct {
	Category string // "category=" word, if present
	Message  string // "message=" word, if present
}

func (e *TrapError) Error() string {
	if e.Message == "" {
		return "routeros: trap"
	}
	return fmt.Sprintf("routeros: trap: %s", e.Message)
}

// Interrupted reports whether this trap is the non-error pause
// acknowledgement ("message=interrupted") rather than a real command
// failure.
func (e *TrapError) Interrupted() bool {
	return e.Message == "interrupted"
}

func trapFromSentence(m map[string]string) *TrapError {
	return &TrapError{Category: m["category"], Message: m["message"]}
}
