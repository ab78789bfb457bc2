// Package stats keeps per-window sample rate and average distance for a
// stream of readings.
package stats

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultPeriod is the minimum time between window flushes.
const DefaultPeriod = time.Second

// Snapshot is the result of the most recent window flush.
type Snapshot struct {
	// Frequency is the number of readings, valid or lost, counted in the
	// last flushed window.
	Frequency int `json:"frequency"`
	// Average is the mean of the valid distances in the last flushed window,
	// or zero if it had none.
	Average float64 `json:"average"`
	// TotalReadings counts every reading observed since creation.
	TotalReadings int64 `json:"total_readings"`
	// FlushedAt is when the last flush happened; the zero time if none has.
	FlushedAt time.Time `json:"flushed_at"`
}

// Window accumulates readings and periodically folds them into a Snapshot.
// Memory use is constant: only counters and a running sum are kept.
type Window struct {
	clock  clock.Clock
	period time.Duration

	mu        sync.Mutex
	count     int
	valid     int
	sum       float64
	total     int64
	start     time.Time
	frequency int
	average   float64
	flushedAt time.Time
}

// NewWindow starts a window at the clock's current time. A nil clock uses the
// wall clock; a non-positive period uses DefaultPeriod.
func NewWindow(clk clock.Clock, period time.Duration) *Window {
	if clk == nil {
		clk = clock.New()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Window{
		clock:  clk,
		period: period,
		start:  clk.Now(),
	}
}

// Observe counts one reading. Only valid readings contribute to the average.
func (w *Window) Observe(distance float64, valid bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	w.total++
	if valid {
		w.valid++
		w.sum += distance
	}
}

// Advance flushes the window if at least one period has elapsed since the
// previous flush, returning the new snapshot and true. Otherwise it returns
// the current snapshot and false.
func (w *Window) Advance() (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if now.Sub(w.start) < w.period {
		return w.snapshotLocked(), false
	}

	w.frequency = w.count
	w.average = 0
	if w.valid > 0 {
		w.average = w.sum / float64(w.valid)
	}
	w.count, w.valid, w.sum = 0, 0, 0
	w.start = now
	w.flushedAt = now
	return w.snapshotLocked(), true
}

// Snapshot returns the result of the last flush.
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Pending returns the number of readings counted since the last flush.
func (w *Window) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Window) snapshotLocked() Snapshot {
	return Snapshot{
		Frequency:     w.frequency,
		Average:       w.average,
		TotalReadings: w.total,
		FlushedAt:     w.flushedAt,
	}
}
