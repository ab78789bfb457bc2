// Package config loads the rangefinder service configuration from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the service configuration. Every field is optional in the file;
// the Get* methods supply defaults for fields that are not set, so a partial
// file is safe.
type Config struct {
	// Serial connection
	Port      *string `json:"port,omitempty"`
	BaudRate  *int    `json:"baud_rate,omitempty"`
	Protocol  *string `json:"protocol,omitempty"`  // "sf30" or "sf33"
	Interface *string `json:"interface,omitempty"` // only "hmi" is decoded

	// Timeouts, as duration strings like "500ms"
	ReadTimeout  *string `json:"read_timeout,omitempty"`
	WriteTimeout *string `json:"write_timeout,omitempty"`
	CloseTimeout *string `json:"close_timeout,omitempty"`

	// Parser behaviour
	MaxLineLengthSF33 *int  `json:"max_line_length_sf33,omitempty"`
	AsyncMultiBeam    *bool `json:"async_multi_beam,omitempty"`
	LogStats          *bool `json:"log_stats,omitempty"`

	// Service
	Listen *string `json:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty"`
}

const (
	DefaultPort         = "/dev/ttyUSB0"
	DefaultBaudRate     = 115200
	DefaultProtocol     = "sf30"
	DefaultInterface    = "hmi"
	DefaultListen       = ":8080"
	DefaultDBPath       = "rangefinder.db"
	DefaultReadTimeout  = 500 * time.Millisecond
	DefaultWriteTimeout = 500 * time.Millisecond
	DefaultCloseTimeout = 5 * time.Second
)

// maxFileSize guards against loading something that is clearly not a
// config file.
const maxFileSize = 1 * 1024 * 1024

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	return &Config{
		Port:              ptrString(DefaultPort),
		BaudRate:          ptrInt(DefaultBaudRate),
		Protocol:          ptrString(DefaultProtocol),
		Interface:         ptrString(DefaultInterface),
		ReadTimeout:       ptrString(DefaultReadTimeout.String()),
		WriteTimeout:      ptrString(DefaultWriteTimeout.String()),
		CloseTimeout:      ptrString(DefaultCloseTimeout.String()),
		MaxLineLengthSF33: ptrInt(0),
		AsyncMultiBeam:    ptrBool(true),
		LogStats:          ptrBool(false),
		Listen:            ptrString(DefaultListen),
		DBPath:            ptrString(DefaultDBPath),
	}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be under 1MB. Unknown fields are rejected so that typos do
// not silently fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.Port != nil && strings.TrimSpace(*c.Port) == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.Protocol != nil {
		switch *c.Protocol {
		case "sf30", "sf33":
		default:
			return fmt.Errorf("protocol must be \"sf30\" or \"sf33\", got %q", *c.Protocol)
		}
	}
	if c.Interface != nil && *c.Interface != "hmi" {
		return fmt.Errorf("interface %q is not supported; only \"hmi\" is decoded", *c.Interface)
	}

	for name, v := range map[string]*string{
		"read_timeout":  c.ReadTimeout,
		"write_timeout": c.WriteTimeout,
		"close_timeout": c.CloseTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.MaxLineLengthSF33 != nil && *c.MaxLineLengthSF33 < 0 {
		return fmt.Errorf("max_line_length_sf33 must be non-negative, got %d", *c.MaxLineLengthSF33)
	}
	if c.Listen != nil && *c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	return nil
}

// GetPort returns the serial port path or the default.
func (c *Config) GetPort() string {
	if c.Port == nil {
		return DefaultPort
	}
	return *c.Port
}

// GetBaudRate returns the baud rate or the default.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetProtocol returns the protocol name or the default.
func (c *Config) GetProtocol() string {
	if c.Protocol == nil {
		return DefaultProtocol
	}
	return *c.Protocol
}

// GetInterface returns the data interface name or the default.
func (c *Config) GetInterface() string {
	if c.Interface == nil {
		return DefaultInterface
	}
	return *c.Interface
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetReadTimeout returns the read timeout or the default.
func (c *Config) GetReadTimeout() time.Duration {
	return duration(c.ReadTimeout, DefaultReadTimeout)
}

// GetWriteTimeout returns the write timeout or the default.
func (c *Config) GetWriteTimeout() time.Duration {
	return duration(c.WriteTimeout, DefaultWriteTimeout)
}

// GetCloseTimeout returns how long a disconnect waits for the port to close.
func (c *Config) GetCloseTimeout() time.Duration {
	return duration(c.CloseTimeout, DefaultCloseTimeout)
}

// GetMaxLineLengthSF33 returns the SF33 line cap; zero means uncapped.
func (c *Config) GetMaxLineLengthSF33() int {
	if c.MaxLineLengthSF33 == nil {
		return 0
	}
	return *c.MaxLineLengthSF33
}

// GetAsyncMultiBeam reports whether SF33 readings are delivered from a
// separate goroutine. Defaults to true.
func (c *Config) GetAsyncMultiBeam() bool {
	if c.AsyncMultiBeam == nil {
		return true
	}
	return *c.AsyncMultiBeam
}

// GetLogStats reports whether each SF30 statistics window is logged.
func (c *Config) GetLogStats() bool {
	if c.LogStats == nil {
		return false
	}
	return *c.LogStats
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return DefaultListen
	}
	return *c.Listen
}

// GetDBPath returns the sqlite database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return DefaultDBPath
	}
	return *c.DBPath
}
