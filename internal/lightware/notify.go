package lightware

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
)

// Notifier is the observer of a device. Parsers call NotifyReading from the
// decode loop before consuming the next byte, and the connection calls
// NotifyError after a transport fault. Both run on the transport's read
// goroutine; an implementation that needs another goroutine redispatches.
type Notifier interface {
	NotifyReading(r reading.Reading)
	NotifyError(err error)
}

// NotifierFuncs adapts a pair of functions to Notifier. Nil fields are
// skipped.
type NotifierFuncs struct {
	OnReading func(r reading.Reading)
	OnError   func(err error)
}

func (n NotifierFuncs) NotifyReading(r reading.Reading) {
	if n.OnReading != nil {
		n.OnReading(r)
	}
}

func (n NotifierFuncs) NotifyError(err error) {
	if n.OnError != nil {
		n.OnError(err)
	}
}

// DefaultQueueDepth is the reading queue size of an AsyncNotifier.
const DefaultQueueDepth = 256

// AsyncNotifier delivers readings to another Notifier from its own
// goroutine, so the decode loop never waits on the observer. Readings are
// delivered in order; when the queue is full new readings are dropped and
// counted. Errors are passed through synchronously.
type AsyncNotifier struct {
	next    Notifier
	queue   chan reading.Reading
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncNotifier starts the delivery goroutine. depth <= 0 uses
// DefaultQueueDepth. Call Close to stop it.
func NewAsyncNotifier(next Notifier, depth int) *AsyncNotifier {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	a := &AsyncNotifier{
		next:  next,
		queue: make(chan reading.Reading, depth),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncNotifier) run() {
	defer close(a.done)
	for r := range a.queue {
		a.next.NotifyReading(r)
	}
}

// NotifyReading queues r and returns immediately.
func (a *AsyncNotifier) NotifyReading(r reading.Reading) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- r:
	default:
		a.dropped.Add(1)
		monitoring.Debugf("reading queue full, dropped %s reading", r.Source())
	}
}

// NotifyError forwards err synchronously.
func (a *AsyncNotifier) NotifyError(err error) {
	a.next.NotifyError(err)
}

// Dropped returns how many readings were discarded because the queue was
// full.
func (a *AsyncNotifier) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting readings, delivers those already queued and waits
// for the delivery goroutine to exit.
func (a *AsyncNotifier) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
