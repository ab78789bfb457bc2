package lightware

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangefinder/internal/lineproto"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
	"github.com/banshee-data/rangefinder/internal/stats"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// recorder is a Notifier that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	readings []reading.Reading
	errs     []error
}

func (r *recorder) NotifyReading(rd reading.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rd)
}

func (r *recorder) NotifyError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Readings() []reading.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reading.Reading(nil), r.readings...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func single(d float64) reading.SingleBeamReading {
	return reading.SingleBeamReading{SamplePoint: reading.SamplePoint{Kind: reading.Distance, Distance: d}}
}

func lostSingle() reading.SingleBeamReading {
	return reading.SingleBeamReading{SamplePoint: reading.Lost()}
}

func TestSF30_ExampleStream(t *testing.T) {
	p := NewSF30()
	got := p.Feed([]byte("\n12.34\n\n-1\n"))

	want := []reading.SingleBeamReading{single(12.34), lostSingle(), single(-1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readings mismatch (-want +got):\n%s", diff)
	}
}

func TestSF30_FirstTerminatorOnlySyncs(t *testing.T) {
	p := NewSF30()
	assert.Equal(t, lineproto.AwaitingFirstLine, p.State())

	assert.Empty(t, p.Feed([]byte("99.9")), "bytes before the first terminator are discarded")
	assert.Empty(t, p.Feed([]byte("\n")))
	assert.Equal(t, lineproto.AccumulatingLine, p.State())

	got := p.Feed([]byte("5.5\n"))
	require.Len(t, got, 1)
	assert.Equal(t, 5.5, got[0].Distance)
}

func TestSF30_ChunkingIndependence(t *testing.T) {
	stream := []byte("7.1\n12.5\r\n0.25 m\nabc\n\n3.4028235e38\n-1\n100.00\n")

	whole := NewSF30().Feed(stream)
	require.NotEmpty(t, whole)

	for size := 1; size <= len(stream); size++ {
		p := NewSF30()
		var got []reading.SingleBeamReading
		for i := 0; i < len(stream); i += size {
			end := min(i+size, len(stream))
			got = append(got, p.Feed(stream[i:end])...)
		}
		if diff := cmp.Diff(whole, got); diff != "" {
			t.Fatalf("chunk size %d changed the output (-whole +chunked):\n%s", size, diff)
		}
	}
}

func TestSF30_StripsCarriageReturnAndSuffix(t *testing.T) {
	p := NewSF30()
	got := p.Feed([]byte("\n12.5\r\n 4.20 m\r\n"))
	want := []reading.SingleBeamReading{single(12.5), single(4.2)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readings mismatch (-want +got):\n%s", diff)
	}
}

func TestSF30_NonNumericLineIsLost(t *testing.T) {
	p := NewSF30()
	got := p.Feed([]byte("\nabc\n"))
	require.Len(t, got, 1)
	assert.Equal(t, reading.LostSignal, got[0].Kind)
	assert.Zero(t, got[0].Distance)
}

func TestSF30_SentinelNeverYieldsDistance(t *testing.T) {
	// The decimal rendering of the maximum float is longer than the line
	// cap, so the line is abandoned rather than decoded.
	for _, tok := range []string{
		strconv.FormatFloat(math.MaxFloat32, 'f', -1, 32),
		strconv.FormatFloat(math.MaxFloat64, 'f', -1, 64),
	} {
		p := NewSF30()
		got := p.Feed([]byte("\n" + tok + "\n"))
		for _, r := range got {
			assert.Less(t, r.Distance, 1e38)
		}
		assert.Empty(t, got)

		got = p.Feed([]byte("1.5\n"))
		require.Len(t, got, 1, "stream resyncs after the oversized line")
		assert.Equal(t, 1.5, got[0].Distance)
	}
}

func TestSF30_Overflow(t *testing.T) {
	p := NewSF30()
	p.Feed([]byte("\n"))
	got := p.Feed([]byte(strings.Repeat("1", 40)))
	assert.Empty(t, got)
	assert.Equal(t, lineproto.AwaitingFirstLine, p.State())
	p.mu.Lock()
	assert.LessOrEqual(t, p.dec.Buffered(), SF30MaxLineLength)
	p.mu.Unlock()

	got = p.Feed([]byte("\n12.5\n"))
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, got[0].Distance)
}

func TestSF30_LineAtCapIsAccepted(t *testing.T) {
	p := NewSF30()
	line := "1" + strings.Repeat("0", SF30MaxLineLength-1)
	got := p.Feed([]byte("\n" + line + "\n"))
	require.Len(t, got, 1)
	assert.Equal(t, reading.Distance, got[0].Kind)
}

func TestSF30_NotifierSeesEveryReadingInOrder(t *testing.T) {
	rec := &recorder{}
	p := NewSF30(WithNotifier(rec))
	got := p.Feed([]byte("\n1\n2\nxyz\n3\n"))

	require.Len(t, rec.Readings(), len(got))
	for i, r := range rec.Readings() {
		assert.Equal(t, got[i], r)
	}
}

func TestSF30_NotifierRunsBeforeNextByte(t *testing.T) {
	var p *SF30
	var states []lineproto.State
	var seen []reading.Reading
	p = NewSF30(WithNotifier(NotifierFuncs{OnReading: func(r reading.Reading) {
		seen = append(seen, r)
		// The terminator is being handled; the bytes after it are not
		// consumed yet.
		states = append(states, p.dec.State())
		assert.Equal(t, 1, p.dec.Buffered())
	}}))
	p.Feed([]byte("\n1\n2\n"))
	assert.Len(t, seen, 2)
	assert.Equal(t, []lineproto.State{lineproto.AccumulatingLine, lineproto.AccumulatingLine}, states)
}

func TestSF30_WriteDoesNotCollect(t *testing.T) {
	rec := &recorder{}
	p := NewSF30(WithNotifier(rec))
	n, err := p.Write([]byte("\n1\n2\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, rec.Readings(), 2)
	assert.Nil(t, p.out)
}

func TestSF30_SetNotifier(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	p := NewSF30(WithNotifier(first))
	p.Feed([]byte("\n1\n"))
	p.SetNotifier(second)
	p.Feed([]byte("2\n"))
	p.SetNotifier(nil)
	p.Feed([]byte("3\n"))

	assert.Len(t, first.Readings(), 1)
	assert.Len(t, second.Readings(), 1)
}

func TestSF30_Reset(t *testing.T) {
	p := NewSF30()
	p.Feed([]byte("\n12"))
	p.Reset()
	assert.Equal(t, lineproto.AwaitingFirstLine, p.State())
	assert.Empty(t, p.Feed([]byte(".5\n")), "partial line is discarded and the next terminator only syncs")
	got := p.Feed([]byte("7\n"))
	require.Len(t, got, 1)
	assert.Equal(t, 7.0, got[0].Distance)
}

func TestSF30_Stats(t *testing.T) {
	mock := clock.NewMock()
	var hooked []stats.Snapshot
	p := NewSF30(WithClock(mock), WithStatsHook(func(s stats.Snapshot) { hooked = append(hooked, s) }))

	p.Feed([]byte("\n"))
	for range 10 {
		p.Feed([]byte("2.0\n"))
	}
	assert.Zero(t, p.Stats().Frequency, "no flush before a full period")
	assert.Equal(t, int64(10), p.Stats().TotalReadings)
	assert.Empty(t, hooked)

	mock.Add(time.Second)
	p.Feed([]byte("4.0\n"))

	s := p.Stats()
	assert.Equal(t, 11, s.Frequency)
	assert.InDelta(t, 24.0/11.0, s.Average, 1e-9)
	assert.Equal(t, int64(11), s.TotalReadings)
	assert.Equal(t, mock.Now(), s.FlushedAt)
	require.Len(t, hooked, 1)
	assert.Equal(t, s, hooked[0])
}

func TestSF30_StatsIgnoreLostInAverage(t *testing.T) {
	mock := clock.NewMock()
	p := NewSF30(WithClock(mock))
	p.Feed([]byte("\n3.0\nabc\n"))
	mock.Add(time.Second)
	p.Feed([]byte("5.0\n"))

	s := p.Stats()
	assert.Equal(t, 3, s.Frequency, "lost readings count toward the rate")
	assert.InDelta(t, 4.0, s.Average, 1e-9)
}

func TestSF30_StatsWindowWithNoValidReadings(t *testing.T) {
	mock := clock.NewMock()
	p := NewSF30(WithClock(mock), WithStatsPeriod(500*time.Millisecond))
	p.Feed([]byte("\nabc\n"))
	mock.Add(500 * time.Millisecond)
	p.Feed([]byte("\n"))

	s := p.Stats()
	assert.Equal(t, 2, s.Frequency)
	assert.Zero(t, s.Average)
}

func TestSF30_StatsSurviveReset(t *testing.T) {
	p := NewSF30()
	p.Feed([]byte("\n1\n2\n"))
	p.Reset()
	assert.Equal(t, int64(2), p.Stats().TotalReadings)
}
