// Package units provides shared constants and conversion for distance units.
// Readings are decoded and stored in meters.
package units

import "strings"

// Unit constants
const (
	Meters      = "m"
	Centimeters = "cm"
	Feet        = "ft"
	Inches      = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Meters, Centimeters, Feet, Inches}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertDistance converts a distance in meters to the target units.
// Unknown units leave the value in meters.
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Centimeters:
		return meters * 100
	case Feet:
		return meters / 0.3048
	case Inches:
		return meters / 0.0254
	default:
		return meters
	}
}
