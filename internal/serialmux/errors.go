package serialmux

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectFailed wraps any failure to open or configure a port.
	ErrConnectFailed = errors.New("failed to open serial port")
	// ErrNotConnected is returned by operations that need an open port.
	ErrNotConnected = errors.New("serial port not connected")
	// ErrCloseTimeout is returned when a port does not report closed in time.
	ErrCloseTimeout = errors.New("timed out waiting for serial port to close")
	// ErrWriteFailed is returned on a short write.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrWriteTimeout is returned when a write does not complete in time.
	ErrWriteTimeout = errors.New("timed out writing to serial port")
)

// TransportError is a read or write fault on an open port. The session is
// torn down when one occurs; the caller may reconnect.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serial %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
