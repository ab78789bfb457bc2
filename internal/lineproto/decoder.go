// Package lineproto reassembles terminator-delimited ASCII lines from a byte
// stream that arrives in arbitrarily sized chunks.
//
// A Decoder is fed one chunk at a time and keeps everything needed to resume
// mid-line between calls, so the output does not depend on where the
// transport happened to split the stream. The first terminator seen after
// construction (or after an overflow) only establishes line alignment; no
// line is emitted for it.
package lineproto

// State is the line-alignment state of a Decoder.
type State int

const (
	// AwaitingFirstLine discards bytes until a terminator is seen.
	AwaitingFirstLine State = iota
	// AccumulatingLine appends accepted bytes to the current line.
	AccumulatingLine
)

func (s State) String() string {
	if s == AccumulatingLine {
		return "accumulating"
	}
	return "awaiting"
}

// LineHandler receives a completed line, without its terminator. The slice
// is only valid for the duration of the call.
type LineHandler func(line []byte)

// Config parameterises a Decoder.
type Config struct {
	// Terminator ends a line. Defaults to '\n'.
	Terminator byte
	// Skip lists bytes that are dropped without any state change.
	Skip []byte
	// Accept filters bytes appended to the line. Rejected bytes are dropped
	// without touching the buffer. Nil accepts everything.
	Accept func(b byte) bool
	// MaxLen caps the line buffer. When the buffer is full and another
	// non-terminator byte arrives, the line is abandoned and the decoder
	// returns to AwaitingFirstLine. Zero leaves the buffer uncapped.
	MaxLen int
	// OnLine is called for every completed line.
	OnLine LineHandler
	// OnOverflow, if set, is called when a line is abandoned.
	OnOverflow func()
}

// Decoder is a byte-at-a-time line reassembler. It is not safe for
// concurrent use; callers feeding from more than one goroutine must
// serialise access.
type Decoder struct {
	cfg   Config
	skip  [256]bool
	buf   []byte
	state State
}

// New returns a Decoder in the AwaitingFirstLine state.
func New(cfg Config) *Decoder {
	if cfg.Terminator == 0 {
		cfg.Terminator = '\n'
	}
	d := &Decoder{cfg: cfg}
	for _, b := range cfg.Skip {
		d.skip[b] = true
	}
	if cfg.MaxLen > 0 {
		d.buf = make([]byte, 0, cfg.MaxLen)
	}
	return d
}

// Feed consumes a chunk of the stream, invoking OnLine for each line it
// completes. Lines are delivered in order before Feed returns.
func (d *Decoder) Feed(p []byte) {
	for _, b := range p {
		d.WriteByte(b)
	}
}

// Write implements io.Writer over Feed. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.Feed(p)
	return len(p), nil
}

// WriteByte consumes a single byte. It implements io.ByteWriter and never
// fails.
func (d *Decoder) WriteByte(b byte) error {
	if d.skip[b] {
		return nil
	}

	if b == d.cfg.Terminator {
		if d.state == AccumulatingLine && d.cfg.OnLine != nil {
			d.cfg.OnLine(d.buf)
		}
		d.state = AccumulatingLine
		d.buf = d.buf[:0]
		return nil
	}

	if d.state != AccumulatingLine {
		return nil
	}

	if d.cfg.MaxLen > 0 && len(d.buf) >= d.cfg.MaxLen {
		d.state = AwaitingFirstLine
		d.buf = d.buf[:0]
		if d.cfg.OnOverflow != nil {
			d.cfg.OnOverflow()
		}
		return nil
	}

	if d.cfg.Accept != nil && !d.cfg.Accept(b) {
		return nil
	}
	d.buf = append(d.buf, b)
	return nil
}

// Reset discards any partial line and returns to AwaitingFirstLine.
func (d *Decoder) Reset() {
	d.state = AwaitingFirstLine
	d.buf = d.buf[:0]
}

// State returns the current alignment state.
func (d *Decoder) State() State { return d.state }

// Buffered returns the number of bytes held for the current line.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Cap returns the configured line cap, or zero when uncapped.
func (d *Decoder) Cap() int { return d.cfg.MaxLen }

// DecimalByte accepts the characters of a plain decimal token: the digits,
// '.' and '-'.
func DecimalByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == '.' || b == '-'
}
