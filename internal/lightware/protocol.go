// Package lightware decodes the human-readable output of LightWare laser
// rangefinders: the single-beam SF30 stream and the three-beam SF33 stream.
package lightware

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/banshee-data/rangefinder/internal/stats"
)

// Protocol names a supported line protocol.
type Protocol string

const (
	// ProtocolSF30 is one decimal distance per line.
	ProtocolSF30 Protocol = "sf30"
	// ProtocolSF33 is three 'm'-suffixed distances per line.
	ProtocolSF33 Protocol = "sf33"
)

// ErrUnknownProtocol is returned by ParseProtocol.
var ErrUnknownProtocol = errors.New("unknown rangefinder protocol")

// ParseProtocol accepts a protocol name or an alias such as "single" or
// "three-beam".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sf30", "single", "single-beam", "single_beam":
		return ProtocolSF30, nil
	case "sf33", "three", "three-beam", "three_beam", "multi", "multi-beam", "multi_beam":
		return ProtocolSF33, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// Parser is the protocol-independent face of SF30 and SF33. Write feeds a
// chunk of the byte stream and never fails.
type Parser interface {
	io.Writer
	Protocol() Protocol
	// SetNotifier registers the observer; nil removes it.
	SetNotifier(n Notifier)
	// Reset discards any partial line and waits for a new sync marker.
	Reset()
}

// StatsSource is implemented by parsers that keep rate statistics.
type StatsSource interface {
	Stats() stats.Snapshot
}

type options struct {
	clock       clock.Clock
	statsPeriod time.Duration
	statsHook   func(stats.Snapshot)
	notifier    Notifier
	maxLine     int
}

// Option configures a parser.
type Option func(*options)

// WithClock sets the clock behind the SF30 statistics window.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStatsPeriod overrides the one-second statistics window.
func WithStatsPeriod(d time.Duration) Option {
	return func(o *options) { o.statsPeriod = d }
}

// WithStatsHook is called with each new SF30 snapshot, on the decode loop.
func WithStatsHook(fn func(stats.Snapshot)) Option {
	return func(o *options) { o.statsHook = fn }
}

// WithNotifier sets the initial observer.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMaxLineLength caps SF33 lines at n bytes; zero leaves them uncapped.
// SF30 always uses its fixed cap.
func WithMaxLineLength(n int) Option {
	return func(o *options) { o.maxLine = n }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewParser returns the parser for p.
func NewParser(p Protocol, opts ...Option) (Parser, error) {
	switch p {
	case ProtocolSF30:
		return NewSF30(opts...), nil
	case ProtocolSF33:
		return NewSF33(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, string(p))
	}
}

// notifierSlot holds the observer so it can be swapped while the decode loop
// holds the parser lock.
type notifierSlot struct {
	mu sync.RWMutex
	n  Notifier
}

func (s *notifierSlot) set(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = n
}

func (s *notifierSlot) get() Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}
