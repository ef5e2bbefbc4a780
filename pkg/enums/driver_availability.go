package enums

import "fmt"

// DriverAvailability is the presence status a driver advertises.
type DriverAvailability string

const (
	DriverAvailable DriverAvailability = "available"
	DriverBusy      DriverAvailability = "busy"
	DriverOffline   DriverAvailability = "offline"
)

var validDriverAvailabilities = []DriverAvailability{
	DriverAvailable,
	DriverBusy,
	DriverOffline,
}

// String implements fmt.Stringer.
func (d DriverAvailability) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DriverAvailability.
func (d DriverAvailability) IsValid() bool {
	for _, candidate := range validDriverAvailabilities {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDriverAvailability converts raw input into a DriverAvailability.
func ParseDriverAvailability(value string) (DriverAvailability, error) {
	for _, candidate := range validDriverAvailabilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid driver availability %q", value)
}
