package serialmux

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/banshee-data/rangefinder/internal/monitoring"
)

// Sink consumes chunks read from an open port. Chunks arrive in order from a
// single goroutine, so Feed is never called concurrently for one session.
// The slice is reused after Feed returns.
type Sink interface {
	Feed(p []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p []byte)

func (f SinkFunc) Feed(p []byte) { f(p) }

// SessionInfo describes one open connection.
type SessionInfo struct {
	ID       string      `json:"id"`
	Path     string      `json:"path"`
	Options  PortOptions `json:"options"`
	OpenedAt time.Time   `json:"opened_at"`
}

// SessionObserver is told when sessions open and close. reason is nil for a
// requested disconnect and the *TransportError for a fault.
type SessionObserver interface {
	SessionOpened(info SessionInfo)
	SessionClosed(info SessionInfo, reason error)
}

// Manager owns the lifetime of at most one open port. It reads the port on a
// dedicated goroutine and hands each chunk to the session's Sink.
//
// Disconnect may be called from any goroutine, including one that the read
// goroutine is blocked on while delivering a notification: the port is
// closed from a separate goroutine and Disconnect only waits for that close
// to finish, never for the read goroutine.
type Manager struct {
	factory      SerialPortFactory
	clock        clock.Clock
	closeTimeout time.Duration
	readBufSize  int
	observer     SessionObserver

	connMu sync.Mutex // serialises Connect and Disconnect

	mu   sync.Mutex
	sess *session
}

type session struct {
	info    SessionInfo
	port    SerialPorter
	sink    Sink
	onError func(error)
	timeout time.Duration

	closing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	done      chan struct{}

	// writing holds a token while a port write is in flight, including one
	// that outlived its timeout.
	writing chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for close and write timeouts.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithCloseTimeout bounds how long Disconnect waits for the port to close.
func WithCloseTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.closeTimeout = d
		}
	}
}

// WithReadBufferSize sets the size of the buffer used for each port read.
func WithReadBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.readBufSize = n
		}
	}
}

// WithSessionObserver registers an observer for session open and close.
func WithSessionObserver(o SessionObserver) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager returns a disconnected Manager that opens ports via factory.
func NewManager(factory SerialPortFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:      factory,
		clock:        clock.New(),
		closeTimeout: 5 * time.Second,
		readBufSize:  4096,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the port at path and starts delivering its bytes to sink.
// Any open session is disconnected first. Failures to open or configure the
// port wrap ErrConnectFailed. onError, if set, receives a *TransportError
// after a mid-session fault has torn the session down.
func (m *Manager) Connect(path string, opts PortOptions, sink Sink, onError func(error)) error {
	if sink == nil {
		return fmt.Errorf("%w: nil sink", ErrConnectFailed)
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if err := m.disconnectLocked(); err != nil {
		monitoring.Logf("error closing previous serial session: %v", err)
	}

	normalized, err := opts.Normalize()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	mode, err := normalized.Mode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	port, err := m.factory.Open(path, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, path, err)
	}

	s := &session{
		info: SessionInfo{
			ID:       uuid.NewString(),
			Path:     path,
			Options:  normalized,
			OpenedAt: m.clock.Now(),
		},
		port:    port,
		sink:    sink,
		onError: onError,
		timeout: normalized.WriteTimeout,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		writing: make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.sess = s
	m.mu.Unlock()

	go m.readLoop(s)

	monitoring.Logf("serial port %s opened at %d baud (session %s)", path, normalized.BaudRate, s.info.ID)
	if m.observer != nil {
		m.observer.SessionOpened(s.info)
	}
	return nil
}

// Disconnect closes the open port, if any, and waits for the close to
// complete. It is a no-op when nothing is connected. Any partially read line
// is discarded by the sink's owner, not here.
func (m *Manager) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.disconnectLocked()
}

func (m *Manager) disconnectLocked() error {
	s := m.detach(nil)
	if s == nil {
		return nil
	}
	err := m.closeSession(s)
	monitoring.Logf("serial port %s closed (session %s)", s.info.Path, s.info.ID)
	if m.observer != nil {
		m.observer.SessionClosed(s.info, nil)
	}
	return err
}

// Connected reports whether a session is open.
func (m *Manager) Connected() bool {
	return m.current() != nil
}

// Session returns the open session, if any.
func (m *Manager) Session() (SessionInfo, bool) {
	s := m.current()
	if s == nil {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Write sends p to the open port. It fails with ErrWriteTimeout if the port
// does not accept the data within the session's write timeout. A write that
// times out still occupies the port, and later writes wait behind it under
// their own timeout. A write error is treated like a read error: the
// session is torn down.
func (m *Manager) Write(p []byte) (int, error) {
	s := m.current()
	if s == nil {
		return 0, ErrNotConnected
	}

	timeout := m.clock.After(s.timeout)
	select {
	case s.writing <- struct{}{}:
	case <-timeout:
		return 0, ErrWriteTimeout
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := s.port.Write(p)
		<-s.writing
		ch <- result{n, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			terr := &TransportError{Op: "write", Path: s.info.Path, Err: r.err}
			m.fail(s, terr)
			return r.n, terr
		}
		if r.n != len(p) {
			return r.n, ErrWriteFailed
		}
		return r.n, nil
	case <-timeout:
		return 0, ErrWriteTimeout
	}
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// detach clears the current session if it is want, or whatever is current
// when want is nil, and returns it.
func (m *Manager) detach(want *session) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if s == nil || (want != nil && s != want) {
		return nil
	}
	m.sess = nil
	return s
}

// closeSession closes the port from its own goroutine and waits for it.
func (m *Manager) closeSession(s *session) error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		go func() {
			s.closeErr = s.port.Close()
			close(s.closed)
		}()
	})

	select {
	case <-s.closed:
		return s.closeErr
	case <-m.clock.After(m.closeTimeout):
		return ErrCloseTimeout
	}
}

// fail tears s down after a transport fault and reports it. Nothing happens
// if s has already been replaced or disconnected.
func (m *Manager) fail(s *session, err *TransportError) {
	if m.detach(s) == nil {
		return
	}
	monitoring.Logf("serial transport error, disconnecting: %v", err)
	if cerr := m.closeSession(s); cerr != nil {
		monitoring.Logf("error closing serial port %s: %v", s.info.Path, cerr)
	}
	if m.observer != nil {
		m.observer.SessionClosed(s.info, err)
	}
	if s.onError != nil {
		s.onError(err)
	}
}

func (m *Manager) readLoop(s *session) {
	defer close(s.done)
	buf := make([]byte, m.readBufSize)
	for {
		n, err := s.port.Read(buf)
		if s.closing.Load() {
			return
		}
		if n > 0 {
			monitoring.Debugf("read %d bytes from %s", n, s.info.Path)
			s.sink.Feed(buf[:n])
		}
		if err != nil {
			if s.closing.Load() {
				return
			}
			m.fail(s, &TransportError{Op: "read", Path: s.info.Path, Err: err})
			return
		}
	}
}
