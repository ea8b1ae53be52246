package serial

import (
	"time"

	goserial "go.bug.st/serial"
)

// readTimeout paces the worker loop: a Read with no data returns after
// this long with n == 0.
const readTimeout = 20 * time.Millisecond

// Port is an open serial link. Read returns (0, nil) when no data arrived
// within the read timeout.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens the named port at the given baud rate.
type Opener func(path string, baud int) (Port, error)

// Ensure the go.bug.st port satisfies Port.
var _ Port = (goserial.Port)(nil)

// OpenPort opens a serial device with go.bug.st/serial, sets the short read
// timeout the worker loop expects and discards stale buffered bytes.
func OpenPort(path string, baud int) (Port, error) {
	p, err := goserial.Open(path, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	// Best effort: some USB bridges do not support flushing.
	_ = p.ResetInputBuffer()
	_ = p.ResetOutputBuffer()
	return p, nil
}
