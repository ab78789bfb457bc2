package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/httputil"
	"github.com/banshee-data/rangefinder/internal/monitoring"
)

// ProfileRequest is the body for creating or replacing a device profile.
type ProfileRequest struct {
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	Protocol    string `json:"protocol"`
	Enabled     *bool  `json:"enabled"`
	Description string `json:"description"`
}

func (req ProfileRequest) profile() db.Profile {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return db.Profile{
		Name:        req.Name,
		PortPath:    req.PortPath,
		BaudRate:    req.BaudRate,
		Protocol:    req.Protocol,
		Enabled:     enabled,
		Description: req.Description,
	}
}

// handleProfilesOrCreate handles GET and POST to /api/profiles
func (s *Server) handleProfilesOrCreate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB == nil {
		httputil.ServiceUnavailable(w, "profiles are not available")
		return
	}
	switch r.Method {
	case http.MethodGet:
		profiles, err := s.cfg.DB.GetProfiles()
		if err != nil {
			monitoring.Logf("error fetching device profiles: %v", err)
			httputil.InternalServerError(w, "failed to fetch device profiles")
			return
		}
		httputil.WriteJSONOK(w, profiles)
	case http.MethodPost:
		var req ProfileRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		p := req.profile()
		if err := p.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.cfg.DB.CreateProfile(&p); err != nil {
			s.writeProfileError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, p)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleProfileByID handles GET/PUT/DELETE /api/profiles/:id
func (s *Server) handleProfileByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB == nil {
		httputil.ServiceUnavailable(w, "profiles are not available")
		return
	}
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/profiles/"), "/")
	if idStr == "" {
		httputil.BadRequest(w, "missing profile ID")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid profile ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := s.cfg.DB.GetProfile(id)
		if err != nil {
			s.writeProfileError(w, err)
			return
		}
		httputil.WriteJSONOK(w, p)
	case http.MethodPut:
		var req ProfileRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		p := req.profile()
		p.ID = id
		if err := p.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.cfg.DB.UpdateProfile(&p); err != nil {
			s.writeProfileError(w, err)
			return
		}
		updated, err := s.cfg.DB.GetProfile(id)
		if err != nil {
			s.writeProfileError(w, err)
			return
		}
		httputil.WriteJSONOK(w, updated)
	case http.MethodDelete:
		if err := s.cfg.DB.DeleteProfile(id); err != nil {
			s.writeProfileError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) writeProfileError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrProfileNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	monitoring.Logf("device profile error: %v", err)
	httputil.InternalServerError(w, err.Error())
}
