// Package api serves the rangefinder's HTTP JSON interface: connection
// control, the latest reading, SF30 statistics, port discovery and stored
// device profiles.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/lightware"
	"github.com/banshee-data/rangefinder/internal/reading"
	"github.com/banshee-data/rangefinder/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Device is the part of lightware.Device the API drives.
type Device interface {
	ConnectWithOptions(address string, opts serialmux.PortOptions, iface lightware.DataInterface, n lightware.Notifier) error
	Disconnect() error
	Connected() bool
	Session() (serialmux.SessionInfo, bool)
	SessionReadings() int64
	Protocol() lightware.Protocol
	SendCommand(cmd string) error
}

// Config wires a Server. Device and Hub are required; the rest are optional
// and the endpoints that need them answer 404 or 503 when they are missing.
type Config struct {
	Device Device
	// Hub carries decoded readings; its latest value backs /api/latest.
	Hub *serialmux.Hub[reading.Reading]
	// Notifier receives readings for connections opened through the API.
	Notifier lightware.Notifier
	// Stats is set for protocols that keep rate statistics.
	Stats lightware.StatsSource
	DB    *db.DB
	// Sessions attributes API connections made from a profile.
	Sessions *db.SessionRecorder
	// ListPorts enumerates serial ports for /api/ports.
	ListPorts func() ([]string, error)
	// PortDefaults supplies the timeouts and framing for API connections.
	PortDefaults serialmux.PortOptions
	// Version is reported by /api/status.
	Version string
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/latest", s.showLatest)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/ports", s.listPorts)
	mux.HandleFunc("/api/profiles", s.handleProfilesOrCreate)
	mux.HandleFunc("/api/profiles/", s.handleProfileByID)
	mux.HandleFunc("/api/sessions", s.listSessions)
	return mux
}
