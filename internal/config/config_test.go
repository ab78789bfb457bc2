package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultPort, cfg.GetPort())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.Equal(t, "sf30", cfg.GetProtocol())
	assert.Equal(t, "hmi", cfg.GetInterface())
	assert.Equal(t, 500*time.Millisecond, cfg.GetReadTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetWriteTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetCloseTimeout())
	assert.Zero(t, cfg.GetMaxLineLengthSF33())
	assert.True(t, cfg.GetAsyncMultiBeam())
	assert.False(t, cfg.GetLogStats())
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "rangefinder.db", cfg.GetDBPath())
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, DefaultConfig().GetPort(), cfg.GetPort())
	assert.Equal(t, DefaultConfig().GetCloseTimeout(), cfg.GetCloseTimeout())
	assert.True(t, cfg.GetAsyncMultiBeam())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "rangefinder.json", `{
  "port": "/dev/ttyACM0",
  "baud_rate": 921600,
  "protocol": "sf33",
  "write_timeout": "250ms",
  "max_line_length_sf33": 64,
  "async_multi_beam": false,
  "log_stats": true
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.GetPort())
	assert.Equal(t, 921600, cfg.GetBaudRate())
	assert.Equal(t, "sf33", cfg.GetProtocol())
	assert.Equal(t, 250*time.Millisecond, cfg.GetWriteTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetReadTimeout(), "omitted fields keep defaults")
	assert.Equal(t, 64, cfg.GetMaxLineLengthSF33())
	assert.False(t, cfg.GetAsyncMultiBeam())
	assert.True(t, cfg.GetLogStats())
	assert.Equal(t, DefaultListen, cfg.GetListen())
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "config.yaml", `{}`, ".json extension"},
		{"bad json", "c.json", `{"port":`, "failed to parse"},
		{"unknown field", "c.json", `{"prot": "sf30"}`, "unknown field"},
		{"bad protocol", "c.json", `{"protocol": "sf11"}`, "protocol must be"},
		{"machine interface", "c.json", `{"interface": "mmi"}`, "not supported"},
		{"negative baud", "c.json", `{"baud_rate": -1}`, "baud_rate"},
		{"bad duration", "c.json", `{"read_timeout": "soon"}`, "invalid read_timeout"},
		{"zero duration", "c.json", `{"close_timeout": "0s"}`, "close_timeout must be positive"},
		{"negative cap", "c.json", `{"max_line_length_sf33": -4}`, "max_line_length_sf33"},
		{"empty port", "c.json", `{"port": " "}`, "port must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadConfig_TooLarge(t *testing.T) {
	body := `{"port": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := LoadConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestGetDurationFallsBackOnGarbage(t *testing.T) {
	bad := "later"
	cfg := &Config{WriteTimeout: &bad}
	assert.Equal(t, DefaultWriteTimeout, cfg.GetWriteTimeout())
}
