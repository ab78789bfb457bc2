package lightware

import (
	"sync"

	"github.com/banshee-data/rangefinder/internal/lineproto"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
	"github.com/banshee-data/rangefinder/internal/stats"
)

// SF30MaxLineLength is the longest line the SF30 accepts. A longer line
// means the stream has lost sync.
const SF30MaxLineLength = 32

// SF30 decodes the single-beam stream: one decimal distance in metres per
// line. Only digits, '.' and '-' are kept; other bytes are dropped so that
// unit suffixes and spaces do not break parsing. It also keeps a rolling
// one-second window of reading rate and average distance.
type SF30 struct {
	mu        sync.Mutex
	dec       *lineproto.Decoder
	window    *stats.Window
	statsHook func(stats.Snapshot)
	notifier  notifierSlot
	out       []reading.SingleBeamReading
	collect   bool
}

// NewSF30 returns a parser waiting for its first line terminator.
func NewSF30(opts ...Option) *SF30 {
	o := buildOptions(opts)
	p := &SF30{
		window:    stats.NewWindow(o.clock, o.statsPeriod),
		statsHook: o.statsHook,
	}
	p.notifier.set(o.notifier)
	p.dec = lineproto.New(lineproto.Config{
		Skip:       []byte{'\r'},
		Accept:     lineproto.DecimalByte,
		MaxLen:     SF30MaxLineLength,
		OnLine:     p.handleLine,
		OnOverflow: func() { monitoring.Debugf("sf30: line exceeded %d bytes, resyncing", SF30MaxLineLength) },
	})
	return p
}

func (p *SF30) Protocol() Protocol { return ProtocolSF30 }

func (p *SF30) SetNotifier(n Notifier) { p.notifier.set(n) }

// Feed decodes a chunk and returns the readings completed by it. Each
// reading has already been passed to the notifier, in order, by the time
// Feed returns. Feed must not be called from inside the notifier.
func (p *SF30) Feed(b []byte) []reading.SingleBeamReading {
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
func (p *SF30) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dec.Feed(b)
	return len(b), nil
}

// Reset drops any partial line; the next byte after a '\n' starts a line.
// Statistics are kept.
func (p *SF30) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dec.Reset()
}

// Stats returns the last flushed statistics window.
func (p *SF30) Stats() stats.Snapshot {
	return p.window.Snapshot()
}

// State reports the line decoder state.
func (p *SF30) State() lineproto.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dec.State()
}

func (p *SF30) handleLine(line []byte) {
	pt, ok := reading.ParseDistance(string(line))
	if !ok {
		monitoring.Debugf("sf30: unparseable line %q", line)
	}
	r := reading.SingleBeamReading{SamplePoint: pt}

	p.window.Observe(pt.Distance, pt.Valid())
	if snap, flushed := p.window.Advance(); flushed && p.statsHook != nil {
		p.statsHook(snap)
	}

	if p.collect {
		p.out = append(p.out, r)
	}
	if n := p.notifier.get(); n != nil {
		n.NotifyReading(r)
	}
}
