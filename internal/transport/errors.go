package transport

import (
	"errors"
	"fmt"
)

// Domain errors for the transport package.
var (
	// ErrTransport is wrapped by every *TransportError.
	ErrTransport = errors.New("transport: i/o failure")

	// ErrAlreadyStarted is returned by Start on a running worker.
	ErrAlreadyStarted = errors.New("transport: worker already started")

	// ErrNoTarget is returned when an MQTT command has no resolvable node.
	ErrNoTarget = errors.New("transport: no target node")

	// ErrTooManyInFlight rejects a batch that would overflow the registry.
	// Its text is logged verbatim.
	ErrTooManyInFlight = errors.New("too many commands in flight")
)

// TransportError reports a connect, read or write failure on the link.
//
//nolint:revive // TransportError is clearer than Error at call sites
type TransportError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
