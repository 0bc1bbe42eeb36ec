package device

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by operations that require binary property
// list bodies, which this client deliberately does not implement.
var ErrUnsupported = errors.New("operation requires binary property lists, which are not supported")

// ConnectionError reports a failure to establish a socket to the receiver.
// It is fatal at construction time; nothing retries it.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a frame that violates the control protocol:
// an unexpected status, a missing or unknown content type, or a
// malformed event request. It is fatal to the triggering call, or to
// the whole event channel when raised from the listener loop. It is
// surfaced to the caller and never retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
