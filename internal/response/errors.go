package response

import (
	"errors"
	"fmt"
)

// ErrProtocol is wrapped by every *ProtocolError.
var ErrProtocol = errors.New("response: undecodable payload")

// ProtocolError reports a payload that arrived intact but does not have a
// known event shape.
type ProtocolError struct {
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("response: undecodable payload %q: %v", truncate(e.Payload, 80), e.Err)
	}
	return fmt.Sprintf("response: undecodable payload %q", truncate(e.Payload, 80))
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
