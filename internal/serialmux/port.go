package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with a read timeout. A read that
// times out returns (0, nil). go.bug.st/serial ports implement it.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// DefaultTimeout bounds both reads and writes on an open port.
const DefaultTimeout = 500 * time.Millisecond

// SerialPortMode defines serial port configuration parameters. Flow control
// is always off.
type SerialPortMode struct {
	BaudRate     int
	DataBits     int
	Parity       Parity
	StopBits     StopBits
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

func (p Parity) String() string {
	switch p {
	case OddParity:
		return "O"
	case EvenParity:
		return "E"
	default:
		return "N"
	}
}

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// DefaultSerialPortMode returns 8N1 at 115200 baud with the default
// read and write timeouts.
func DefaultSerialPortMode() *SerialPortMode {
	return &SerialPortMode{
		BaudRate:     115200,
		DataBits:     8,
		Parity:       NoParity,
		StopBits:     OneStopBit,
		ReadTimeout:  DefaultTimeout,
		WriteTimeout: DefaultTimeout,
	}
}

// SerialPortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given mode.
	Open(path string, mode *SerialPortMode) (SerialPorter, error)
}

// SerialPortOpener adapts a function to SerialPortFactory.
type SerialPortOpener func(path string, mode *SerialPortMode) (SerialPorter, error)

// Open calls f(path, mode).
func (f SerialPortOpener) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	return f(path, mode)
}
