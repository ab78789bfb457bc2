package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/rangefinder/internal/httputil"
	"github.com/banshee-data/rangefinder/internal/lightware"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/reading"
	"github.com/banshee-data/rangefinder/internal/serialmux"
	"github.com/banshee-data/rangefinder/internal/units"
)

// Status is the body of /api/status and of successful connect and
// disconnect calls.
type Status struct {
	Connected       bool                `json:"connected"`
	Protocol        string              `json:"protocol"`
	Port            string              `json:"port,omitempty"`
	BaudRate        int                 `json:"baud_rate,omitempty"`
	SessionID       string              `json:"session_id,omitempty"`
	OpenedAt        *time.Time          `json:"opened_at,omitempty"`
	SessionReadings int64               `json:"session_readings"`
	Hub             *serialmux.HubStats `json:"hub,omitempty"`
	Version         string              `json:"version,omitempty"`
}

func (s *Server) status() Status {
	d := s.cfg.Device
	st := Status{
		Connected:       d.Connected(),
		Protocol:        string(d.Protocol()),
		SessionReadings: d.SessionReadings(),
		Version:         s.cfg.Version,
	}
	if info, ok := d.Session(); ok {
		st.Port = info.Path
		st.BaudRate = info.Options.BaudRate
		st.SessionID = info.ID
		opened := info.OpenedAt
		st.OpenedAt = &opened
	}
	if s.cfg.Hub != nil {
		hs := s.cfg.Hub.Stats()
		st.Hub = &hs
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Hub == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	unit, ok := unitsParam(w, r)
	if !ok {
		return
	}
	latest, ok := s.cfg.Hub.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSONOK(w, convertReading(latest, unit))
}

// unitsParam reads the optional 'units' query parameter, answering 400 if
// it is not a known distance unit.
func unitsParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return units.Meters, true
	}
	if !units.IsValid(u) {
		httputil.BadRequest(w, "Invalid 'units' parameter. Must be one of: "+units.GetValidUnitsString())
		return "", false
	}
	return u, true
}

func convertPoint(p reading.SamplePoint, unit string) reading.SamplePoint {
	if p.Valid() {
		p.Distance = units.ConvertDistance(p.Distance, unit)
	}
	return p
}

// convertReading returns r with every valid distance in unit.
func convertReading(r reading.Reading, unit string) reading.Reading {
	if unit == units.Meters {
		return r
	}
	switch v := r.(type) {
	case reading.SingleBeamReading:
		v.SamplePoint = convertPoint(v.SamplePoint, unit)
		return v
	case reading.MultiBeamReading:
		for i := range v.Beams {
			v.Beams[i] = convertPoint(v.Beams[i], unit)
		}
		return v
	default:
		return r
	}
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Stats == nil {
		httputil.NotFound(w, fmt.Sprintf("protocol %s does not keep statistics", s.cfg.Device.Protocol()))
		return
	}
	unit, ok := unitsParam(w, r)
	if !ok {
		return
	}
	snap := s.cfg.Stats.Stats()
	snap.Average = units.ConvertDistance(snap.Average, unit)
	httputil.WriteJSONOK(w, snap)
}

// ConnectRequest is the body of POST /api/connect. Either Port or ProfileID
// must be set; a profile supplies port and baud rate.
type ConnectRequest struct {
	Port      string `json:"port"`
	BaudRate  int    `json:"baud_rate"`
	ProfileID *int64 `json:"profile_id"`
	Interface string `json:"interface"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req ConnectRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	iface, err := lightware.ParseDataInterface(req.Interface)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	opts := s.cfg.PortDefaults
	port := req.Port
	if req.BaudRate != 0 {
		opts.BaudRate = req.BaudRate
	}

	if req.ProfileID != nil {
		if s.cfg.DB == nil {
			httputil.ServiceUnavailable(w, "profiles are not available")
			return
		}
		p, err := s.cfg.DB.GetProfile(*req.ProfileID)
		if err != nil {
			s.writeProfileError(w, err)
			return
		}
		if !p.Enabled {
			httputil.Conflict(w, fmt.Sprintf("profile %q is disabled", p.Name))
			return
		}
		if p.Protocol != string(s.cfg.Device.Protocol()) {
			httputil.Conflict(w, fmt.Sprintf("profile %q is for %s, device decodes %s", p.Name, p.Protocol, s.cfg.Device.Protocol()))
			return
		}
		port = p.PortPath
		opts.BaudRate = p.BaudRate
	}

	if port == "" {
		httputil.BadRequest(w, "port or profile_id is required")
		return
	}

	if s.cfg.Sessions != nil {
		s.cfg.Sessions.UseProfile(req.ProfileID)
	}
	err = s.cfg.Device.ConnectWithOptions(port, opts, iface, s.cfg.Notifier)
	if err != nil && s.cfg.Sessions != nil {
		s.cfg.Sessions.UseProfile(nil)
	}
	switch {
	case errors.Is(err, lightware.ErrUnsupportedInterface):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, serialmux.ErrConnectFailed):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, s.status())
	}
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.cfg.Device.Disconnect(); err != nil {
		monitoring.Logf("disconnect failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

// CommandRequest is the body of POST /api/command.
type CommandRequest struct {
	Command string `json:"command"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req CommandRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Command == "" {
		httputil.BadRequest(w, "command is required")
		return
	}

	err := s.cfg.Device.SendCommand(req.Command)
	switch {
	case errors.Is(err, serialmux.ErrNotConnected):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, serialmux.ErrWriteTimeout):
		httputil.WriteJSONError(w, http.StatusGatewayTimeout, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, map[string]string{"status": "sent"})
	}
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.ListPorts == nil {
		httputil.ServiceUnavailable(w, "port discovery is not available")
		return
	}
	ports, err := s.cfg.ListPorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list serial ports: %v", err))
		return
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, map[string][]string{"ports": ports})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.DB == nil {
		httputil.ServiceUnavailable(w, "session log is not available")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	sessions, err := s.cfg.DB.RecentSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sessions)
}
