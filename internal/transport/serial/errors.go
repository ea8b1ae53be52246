package serial

import "errors"

// ErrNoPort is returned by New when no device path is configured.
var ErrNoPort = errors.New("serial: port is required")
