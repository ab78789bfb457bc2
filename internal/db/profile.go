package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrProfileNotFound is returned when no profile has the requested ID.
var ErrProfileNotFound = errors.New("device profile not found")

// Profile is a stored rangefinder connection: where the sensor is attached
// and which protocol it speaks.
type Profile struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	Protocol    string `json:"protocol"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Validate checks the fields a profile needs before it can be stored.
// Missing baud rate and protocol take their defaults.
func (p *Profile) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(p.PortPath) == "" {
		return errors.New("port_path is required")
	}
	if p.BaudRate == 0 {
		p.BaudRate = 115200
	}
	if p.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", p.BaudRate)
	}
	if p.Protocol == "" {
		p.Protocol = "sf30"
	}
	if p.Protocol != "sf30" && p.Protocol != "sf33" {
		return fmt.Errorf("protocol must be sf30 or sf33, got %q", p.Protocol)
	}
	return nil
}

const profileColumns = `id, name, port_path, baud_rate, protocol, enabled, description, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var enabled int
	err := row.Scan(&p.ID, &p.Name, &p.PortPath, &p.BaudRate, &p.Protocol, &enabled,
		&p.Description, &p.CreatedAt, &p.UpdatedAt)
	p.Enabled = enabled == 1
	return p, err
}

// GetProfiles returns all profiles in creation order.
func (db *DB) GetProfiles() ([]Profile, error) {
	rows, err := db.Query(`SELECT ` + profileColumns + ` FROM device_profiles ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query device profiles: %w", err)
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetProfile returns a single profile by ID.
func (db *DB) GetProfile(id int64) (*Profile, error) {
	p, err := scanProfile(db.QueryRow(`SELECT `+profileColumns+` FROM device_profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device profile: %w", err)
	}
	return &p, nil
}

// CreateProfile validates and stores p, filling in its ID and timestamps.
func (db *DB) CreateProfile(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}

	result, err := db.Exec(`INSERT INTO device_profiles (name, port_path, baud_rate, protocol, enabled, description)
	          VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.PortPath, p.BaudRate, p.Protocol, enabled, p.Description)
	if err != nil {
		return fmt.Errorf("failed to create device profile: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	stored, err := db.GetProfile(id)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// UpdateProfile overwrites the stored profile with p.ID.
func (db *DB) UpdateProfile(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}

	result, err := db.Exec(`UPDATE device_profiles
	          SET name = ?, port_path = ?, baud_rate = ?, protocol = ?, enabled = ?,
	              description = ?, updated_at = STRFTIME('%s', 'now')
	          WHERE id = ?`,
		p.Name, p.PortPath, p.BaudRate, p.Protocol, enabled, p.Description, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update device profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrProfileNotFound, p.ID)
	}
	return nil
}

// DeleteProfile removes a profile. Sessions that used it keep their rows
// with the profile cleared.
func (db *DB) DeleteProfile(id int64) error {
	result, err := db.Exec(`DELETE FROM device_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	return nil
}
