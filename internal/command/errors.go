package command

import (
	"errors"
	"fmt"
)

// Sentinel errors. ParseError and UnsupportedError unwrap to these so
// callers can branch with errors.Is as well as errors.As.
var (
	// ErrParse marks malformed command text.
	ErrParse = errors.New("command: parse error")

	// ErrUnsupported marks well-formed commands that are not permitted for
	// the action or transport.
	ErrUnsupported = errors.New("command: unsupported")
)

// ParseError reports a command whose text fails its grammar.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Input == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Input, e.Msg)
}

// Unwrap returns ErrParse.
func (e *ParseError) Unwrap() error { return ErrParse }

// UnsupportedError reports a syntactically valid command that cannot be
// sent here: an unknown action, an unknown SET key, or STATUS over MQTT.
type UnsupportedError struct {
	Input string
	Msg   string
}

func (e *UnsupportedError) Error() string {
	if e.Input == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Input, e.Msg)
}

// Unwrap returns ErrUnsupported.
func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

func parseErrorf(input, format string, args ...any) error {
	return &ParseError{Input: input, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedf(input, format string, args ...any) error {
	return &UnsupportedError{Input: input, Msg: fmt.Sprintf(format, args...)}
}
