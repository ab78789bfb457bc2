package lightware

import (
	"strings"
	"sync"

	"github.com/banshee-data/rangefinder/internal/lineproto"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
)

// sf33Fields is the field count of a well-formed SF33 line: three
// 'm'-terminated distances and whatever follows the last 'm'.
const sf33Fields = reading.BeamCount + 1

// SF33 decodes the three-beam stream, e.g. "1.00m2.50m3.75m". Lines without
// exactly three 'm' separators are dropped. A beam whose field does not
// parse, or holds the out-of-range sentinel, is reported as lost.
type SF33 struct {
	mu       sync.Mutex
	dec      *lineproto.Decoder
	notifier notifierSlot
	out      []reading.MultiBeamReading
	collect  bool
}

// NewSF33 returns a parser waiting for its first line terminator. Lines are
// unbounded unless WithMaxLineLength is given.
func NewSF33(opts ...Option) *SF33 {
	o := buildOptions(opts)
	p := &SF33{}
	p.notifier.set(o.notifier)
	maxLine := o.maxLine
	p.dec = lineproto.New(lineproto.Config{
		Skip:       []byte{'\r'},
		MaxLen:     maxLine,
		OnLine:     p.handleLine,
		OnOverflow: func() { monitoring.Debugf("sf33: line exceeded %d bytes, resyncing", maxLine) },
	})
	return p
}

func (p *SF33) Protocol() Protocol { return ProtocolSF33 }

func (p *SF33) SetNotifier(n Notifier) { p.notifier.set(n) }

// Feed decodes a chunk and returns the readings completed by it, after
// passing each to the notifier. Feed must not be called from inside the
// notifier.
func (p *SF33) Feed(b []byte) []reading.MultiBeamReading {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collect = true
	p.dec.Feed(b)
	out := p.out
	p.out = nil
	p.collect = false
	return out
}

// Write implements io.Writer for use as a byte sink. It never fails.
func (p *SF33) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dec.Feed(b)
	return len(b), nil
}

// Reset drops any partial line and waits for a new terminator.
func (p *SF33) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dec.Reset()
}

// State reports the line decoder state.
func (p *SF33) State() lineproto.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dec.State()
}

func (p *SF33) handleLine(line []byte) {
	fields := strings.Split(string(line), "m")
	if len(fields) != sf33Fields {
		monitoring.Debugf("sf33: dropping line with %d fields: %q", len(fields), line)
		return
	}

	r := reading.NewMultiBeamReading()
	for i := range reading.BeamCount {
		if pt, ok := reading.ParseDistance(fields[i]); ok {
			r.Beams[i] = pt
		}
	}

	if p.collect {
		p.out = append(p.out, r)
	}
	if n := p.notifier.get(); n != nil {
		n.NotifyReading(r)
	}
}
