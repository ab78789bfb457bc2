package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/lightware"
)

func TestProfilesCRUD(t *testing.T) {
	e := newTestEnv(t, lightware.ProtocolSF30)

	rec := e.do(t, http.MethodGet, "/api/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/profiles", `{"name": "bench", "port_path": "/dev/ttyUSB0"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[db.Profile](t, rec)
	assert.NotZero(t, created.ID)
	assert.True(t, created.Enabled, "profiles are enabled unless stated")
	assert.Equal(t, "sf30", created.Protocol)
	assert.Equal(t, 115200, created.BaudRate)

	path := "/api/profiles/" + itoa(created.ID)
	rec = e.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[db.Profile](t, rec))

	rec = e.do(t, http.MethodPut, path, `{"name": "bench", "port_path": "/dev/ttyUSB1", "baud_rate": 9600, "enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[db.Profile](t, rec)
	assert.Equal(t, "/dev/ttyUSB1", updated.PortPath)
	assert.Equal(t, 9600, updated.BaudRate)
	assert.False(t, updated.Enabled)

	rec = e.do(t, http.MethodGet, "/api/profiles", "")
	assert.Len(t, decode[[]db.Profile](t, rec), 1)

	rec = e.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfiles_BadRequests(t *testing.T) {
	e := newTestEnv(t, lightware.ProtocolSF30)

	tests := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPost, "/api/profiles", `{"port_path": "/dev/ttyUSB0"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/profiles", `{"name": "x", "port_path": "/dev/x", "protocol": "sf11"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/profiles", `not json`, http.StatusBadRequest},
		{http.MethodGet, "/api/profiles/", "", http.StatusBadRequest},
		{http.MethodGet, "/api/profiles/abc", "", http.StatusBadRequest},
		{http.MethodPut, "/api/profiles/42", `{"name": "x", "port_path": "/dev/x"}`, http.StatusNotFound},
		{http.MethodPatch, "/api/profiles/42", "", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/profiles", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := e.do(t, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.status, rec.Code, "%s %s: %s", tt.method, tt.path, rec.Body.String())
	}
}

func TestProfiles_DuplicateName(t *testing.T) {
	e := newTestEnv(t, lightware.ProtocolSF30)
	body := `{"name": "dup", "port_path": "/dev/ttyUSB0"}`
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/profiles", body).Code)
	assert.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodPost, "/api/profiles", body).Code)
}
