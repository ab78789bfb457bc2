package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/serialmux"
)

// Session is one row of the connection log.
type Session struct {
	ID              string     `json:"id"`
	ProfileID       *int64     `json:"profile_id,omitempty"`
	PortPath        string     `json:"port_path"`
	BaudRate        int        `json:"baud_rate"`
	Protocol        string     `json:"protocol"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	CloseReason     string     `json:"close_reason,omitempty"`
	TransportErrors int        `json:"transport_errors"`
	TotalReadings   int64      `json:"total_readings"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

// InsertSession records an opened session.
func (db *DB) InsertSession(s Session) error {
	_, err := db.Exec(`INSERT INTO connection_sessions
	          (session_id, profile_id, port_path, baud_rate, protocol, opened_at)
	          VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProfileID, s.PortPath, s.BaudRate, s.Protocol, unixSeconds(s.OpenedAt))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// CloseSession fills in the end of a session. reason is empty for a
// requested disconnect.
func (db *DB) CloseSession(id string, closedAt time.Time, reason string, transportErrors int, totalReadings int64) error {
	result, err := db.Exec(`UPDATE connection_sessions
	          SET closed_at = ?, close_reason = ?, transport_errors = ?, total_readings = ?
	          WHERE session_id = ? AND closed_at IS NULL`,
		unixSeconds(closedAt), reason, transportErrors, totalReadings, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no open session %s", id)
	}
	return nil
}

// CloseDanglingSessions marks sessions left open by a previous process as
// interrupted and returns how many there were.
func (db *DB) CloseDanglingSessions(at time.Time) (int64, error) {
	result, err := db.Exec(`UPDATE connection_sessions
	          SET closed_at = ?, close_reason = 'interrupted'
	          WHERE closed_at IS NULL`, unixSeconds(at))
	if err != nil {
		return 0, fmt.Errorf("failed to close dangling sessions: %w", err)
	}
	return result.RowsAffected()
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT session_id, profile_id, port_path, baud_rate, protocol, opened_at,
	          closed_at, close_reason, transport_errors, total_readings
	          FROM connection_sessions ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			s        Session
			profile  sql.NullInt64
			openedAt float64
			closedAt sql.NullFloat64
			reason   sql.NullString
		)
		if err := rows.Scan(&s.ID, &profile, &s.PortPath, &s.BaudRate, &s.Protocol, &openedAt,
			&closedAt, &reason, &s.TransportErrors, &s.TotalReadings); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if profile.Valid {
			s.ProfileID = &profile.Int64
		}
		s.OpenedAt = fromUnixSeconds(openedAt)
		if closedAt.Valid {
			t := fromUnixSeconds(closedAt.Float64)
			s.ClosedAt = &t
		}
		s.CloseReason = reason.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionRecorder writes the connection log. It implements
// serialmux.SessionObserver. Store failures are logged and never reach the
// connection.
type SessionRecorder struct {
	db       *DB
	protocol string
	readings func() int64
	now      func() time.Time

	mu          sync.Mutex
	nextProfile *int64
}

// NewSessionRecorder logs sessions for a device speaking protocol. readings,
// if set, reports how many readings the closing session produced.
func NewSessionRecorder(db *DB, protocol string, readings func() int64) *SessionRecorder {
	return &SessionRecorder{db: db, protocol: protocol, readings: readings, now: time.Now}
}

// UseProfile attributes the next opened session to profile id. Pass nil for
// an ad hoc connection.
func (r *SessionRecorder) UseProfile(id *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextProfile = id
}

func (r *SessionRecorder) SessionOpened(info serialmux.SessionInfo) {
	r.mu.Lock()
	profile := r.nextProfile
	r.nextProfile = nil
	r.mu.Unlock()

	err := r.db.InsertSession(Session{
		ID:        info.ID,
		ProfileID: profile,
		PortPath:  info.Path,
		BaudRate:  info.Options.BaudRate,
		Protocol:  r.protocol,
		OpenedAt:  info.OpenedAt,
	})
	if err != nil {
		monitoring.Logf("session log: %v", err)
	}
}

func (r *SessionRecorder) SessionClosed(info serialmux.SessionInfo, reason error) {
	var (
		why        string
		transports int
		total      int64
	)
	if reason != nil {
		why = reason.Error()
		transports = 1
	}
	if r.readings != nil {
		total = r.readings()
	}
	if err := r.db.CloseSession(info.ID, r.now(), why, transports, total); err != nil {
		monitoring.Logf("session log: %v", err)
	}
}
