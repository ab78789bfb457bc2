package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by the test and replay ports after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with configurable
// behaviour for testing. Reads block until data arrives, the port is closed,
// an error is injected, or the read timeout elapses (returning 0, nil as a
// hardware port does).
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ChunkSize limits how many bytes one Read returns; zero means no limit
	ChunkSize int

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// CloseLatency delays Close
	CloseLatency time.Duration

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// CloseCalls records the number of Close calls
	CloseCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	wake chan struct{}
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		wake:        make(chan struct{}, 1),
	}
}

func (t *TestableSerialPort) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Read returns buffered data, waiting for more when the buffer is empty.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.ReadCalls++
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if t.Closed {
			t.mu.Unlock()
			return 0, ErrPortClosed
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			t.mu.Unlock()
			return 0, err
		}
		if t.ReadBuffer.Len() > 0 {
			if t.ChunkSize > 0 && len(p) > t.ChunkSize {
				p = p[:t.ChunkSize]
			}
			n, err := t.ReadBuffer.Read(p)
			t.mu.Unlock()
			return n, err
		}
		timeout := t.ReadTimeout
		t.mu.Unlock()

		if timeout <= 0 {
			<-t.wake
			continue
		}
		timer := time.NewTimer(timeout)
		select {
		case <-t.wake:
			timer.Stop()
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write writes to the write buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	latency := t.CloseLatency
	t.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCalls++
	t.Closed = true
	t.signal()
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.signal()
}

// InjectReadError makes the next Read fail with err.
func (t *TestableSerialPort) InjectReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.signal()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Ports are handed out by successive Open calls; the last one is
	// reused once the list is exhausted
	Ports []SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall

	opened int
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *SerialPortMode
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(ports ...SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Ports: ports}
}

// Open returns the next configured port or error.
func (f *MockSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path: path,
		Mode: mode,
	})

	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) == 0 {
		return nil, errors.New("no mock port configured")
	}

	i := min(f.opened, len(f.Ports)-1)
	f.opened++
	port := f.Ports[i]
	if tp, ok := port.(TimeoutSerialPorter); ok && mode != nil {
		tp.SetReadTimeout(mode.ReadTimeout)
	}
	return port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// ReplayPort is a read-only port that plays back recorded sensor output in
// a loop, one line per interval. It backs the --dev mode.
type ReplayPort struct {
	lines    [][]byte
	interval time.Duration

	mu      sync.Mutex
	next    int
	pending []byte
	closed  chan struct{}
	once    sync.Once
}

// NewReplayPort splits data into lines (keeping terminators) and returns a
// port that emits them every interval.
func NewReplayPort(data []byte, interval time.Duration) *ReplayPort {
	var lines [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, append(append([]byte(nil), data...), '\n'))
			break
		}
		lines = append(lines, data[:i+1])
		data = data[i+1:]
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ReplayPort{
		lines:    lines,
		interval: interval,
		closed:   make(chan struct{}),
	}
}

func (r *ReplayPort) Read(p []byte) (int, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		r.mu.Unlock()
		return n, nil
	}
	r.mu.Unlock()

	if len(r.lines) == 0 {
		<-r.closed
		return 0, ErrPortClosed
	}

	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	select {
	case <-r.closed:
		return 0, ErrPortClosed
	case <-timer.C:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	line := r.lines[r.next%len(r.lines)]
	r.next++
	n := copy(p, line)
	r.pending = line[n:]
	return n, nil
}

// Write discards p.
func (r *ReplayPort) Write(p []byte) (int, error) {
	select {
	case <-r.closed:
		return 0, ErrPortClosed
	default:
		return len(p), nil
	}
}

func (r *ReplayPort) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// ReplayFactory opens a fresh ReplayPort for every path.
type ReplayFactory struct {
	Data     []byte
	Interval time.Duration
}

func (f ReplayFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	return NewReplayPort(f.Data, f.Interval), nil
}
