package domain

import (
	"time"

	telemetrydomain "tanklink/backend/internal/telemetry/domain"
)

// Device is a provisioned gas tank sensor. UserID is nil while the device is
// unclaimed; claiming sets it, releasing clears it back to nil. The row
// itself is never deleted, so a released device can be claimed again.
type Device struct {
	ID           string
	SerialNumber string
	UserID       *string
	Name         *string
	CreatedAt    time.Time
	ClaimedAt    *time.Time

	// LastReading is the most recent telemetry sample, attached by the
	// device service when listing; it is derived, not stored on the row.
	LastReading *telemetrydomain.Reading
}

// OwnedBy reports whether the device is currently claimed by userID.
func (d *Device) OwnedBy(userID string) bool {
	return d.UserID != nil && *d.UserID == userID
}

// DisplayName returns the device's name, or the generated default
// "Tank <last 4 of serial>" when no name was set.
func (d *Device) DisplayName() string {
	if d.Name != nil && *d.Name != "" {
		return *d.Name
	}
	return DefaultName(d.SerialNumber)
}

// DefaultName generates the fallback display name for a serial number.
func DefaultName(serial string) string {
	suffix := serial
	if len(serial) > 4 {
		suffix = serial[len(serial)-4:]
	}
	return "Tank " + suffix
}
