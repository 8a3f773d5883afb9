// Package units provides shared constants and conversion for dwell-time
// units and display timezones.
package units

// Unit constants
const (
	Seconds = "s"
	Minutes = "min"
	Hours   = "h"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Seconds, Minutes, Hours}

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
	return "s, min, h"
}

// ConvertDuration converts a duration in seconds to the target units.
// Durations are stored in seconds.
func ConvertDuration(seconds float64, targetUnits string) float64 {
	switch targetUnits {
	case Minutes:
		return seconds / 60
	case Hours:
		return seconds / 3600
	default:
		return seconds
	}
}

// ConvertDurations converts every value in place and returns the slice.
func ConvertDurations(seconds []float64, targetUnits string) []float64 {
	for i, s := range seconds {
		seconds[i] = ConvertDuration(s, targetUnits)
	}
	return seconds
}
