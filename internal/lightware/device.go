package lightware

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
	"github.com/banshee-data/rangefinder/internal/serialmux"
)

// DataInterface selects the output format the sensor is configured for.
type DataInterface int

const (
	// HumanInterface is the ASCII line output decoded by SF30 and SF33.
	HumanInterface DataInterface = iota
	// MachineInterface is the binary output. It is not decoded.
	MachineInterface
)

func (i DataInterface) String() string {
	switch i {
	case HumanInterface:
		return "hmi"
	case MachineInterface:
		return "mmi"
	default:
		return fmt.Sprintf("DataInterface(%d)", int(i))
	}
}

// ParseDataInterface accepts "hmi"/"human" and "mmi"/"machine".
func ParseDataInterface(s string) (DataInterface, error) {
	switch s {
	case "", "hmi", "human":
		return HumanInterface, nil
	case "mmi", "machine":
		return MachineInterface, nil
	default:
		return 0, fmt.Errorf("unknown data interface %q", s)
	}
}

// ErrUnsupportedInterface is returned by Connect for any interface other than
// HumanInterface.
var ErrUnsupportedInterface = errors.New("unsupported data interface")

// Device binds a parser to a serial connection. It owns at most one open
// port; connecting again disconnects first.
//
// Every Connect and Disconnect starts a new generation. A chunk is decoded
// under the generation of the session that read it, and readings from a
// generation that is no longer current are dropped, so the rest of a chunk
// read from a replaced port never reaches the next session.
type Device struct {
	parser Parser
	conn   *serialmux.Manager

	mu       sync.RWMutex
	notifier Notifier

	gen             atomic.Uint64
	sessionReadings atomic.Int64

	// feedMu serialises decoding across sessions. feeding is the generation
	// of the chunk being decoded and fed the generation last decoded.
	feedMu  sync.Mutex
	feeding uint64
	fed     uint64
}

// NewDevice returns a disconnected device. The parser's notifier is owned by
// the device from here on.
func NewDevice(parser Parser, conn *serialmux.Manager) *Device {
	d := &Device{parser: parser, conn: conn}
	parser.SetNotifier(deviceNotifier{d})
	return d
}

// Parser returns the device's parser.
func (d *Device) Parser() Parser { return d.parser }

// Protocol returns the parser's protocol.
func (d *Device) Protocol() Protocol { return d.parser.Protocol() }

// Connect opens address at baud with the fixed 8N1 framing and the default
// timeouts. See ConnectWithOptions.
func (d *Device) Connect(address string, baud int, iface DataInterface, n Notifier) error {
	return d.ConnectWithOptions(address, serialmux.PortOptions{BaudRate: baud}, iface, n)
}

// ConnectWithOptions opens address and starts decoding. Readings and
// transport errors go to n, which may be nil. Partial line state is
// discarded before the first chunk of the new session is decoded, so the
// parser resynchronises on its first line terminator. A failure to open
// wraps serialmux.ErrConnectFailed. Connect may be called from inside a
// notifier.
func (d *Device) ConnectWithOptions(address string, opts serialmux.PortOptions, iface DataInterface, n Notifier) error {
	if iface != HumanInterface {
		return fmt.Errorf("%w: %s", ErrUnsupportedInterface, iface)
	}

	gen := d.gen.Add(1)
	if err := d.conn.Disconnect(); err != nil {
		// The old session is detached even when its close times out.
		monitoring.Logf("error closing previous rangefinder session: %v", err)
	}

	d.mu.Lock()
	d.notifier = n
	d.mu.Unlock()
	d.sessionReadings.Store(0)

	sink := serialmux.SinkFunc(func(p []byte) { d.feed(gen, p) })
	onError := func(err error) {
		if d.gen.Load() == gen {
			d.notifyError(err)
		}
	}
	return d.conn.Connect(address, opts, sink, onError)
}

// Disconnect closes the port. It is safe to call from inside a notifier;
// no reading is delivered once it returns.
func (d *Device) Disconnect() error {
	d.gen.Add(1)
	return d.conn.Disconnect()
}

// Connected reports whether a port is open.
func (d *Device) Connected() bool { return d.conn.Connected() }

// Session returns the open session, if any.
func (d *Device) Session() (serialmux.SessionInfo, bool) { return d.conn.Session() }

// SessionReadings counts readings decoded since the last Connect.
func (d *Device) SessionReadings() int64 { return d.sessionReadings.Load() }

// SendCommand writes cmd followed by a line feed to the sensor.
func (d *Device) SendCommand(cmd string) error {
	_, err := d.conn.Write([]byte(cmd + "\n"))
	return err
}

// feed runs on the read goroutine of the session that started gen. The
// parser is reset on the first chunk of each session rather than in
// Connect, because Connect can be called while the previous session's
// goroutine is inside the parser.
func (d *Device) feed(gen uint64, p []byte) {
	d.feedMu.Lock()
	defer d.feedMu.Unlock()
	if gen != d.gen.Load() {
		return
	}
	if gen != d.fed {
		d.parser.Reset()
		d.fed = gen
	}
	d.feeding = gen
	d.parser.Write(p)
}

func (d *Device) current() Notifier {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notifier
}

func (d *Device) notifyError(err error) {
	if n := d.current(); n != nil {
		n.NotifyError(err)
	}
}

// deviceNotifier counts readings and forwards them to the caller's notifier.
type deviceNotifier struct{ d *Device }

// NotifyReading is called by the parser from inside feed, with feedMu held.
func (dn deviceNotifier) NotifyReading(r reading.Reading) {
	if dn.d.feeding != dn.d.gen.Load() {
		return
	}
	dn.d.sessionReadings.Add(1)
	if n := dn.d.current(); n != nil {
		n.NotifyReading(r)
	}
}

func (dn deviceNotifier) NotifyError(err error) {
	dn.d.notifyError(err)
}
