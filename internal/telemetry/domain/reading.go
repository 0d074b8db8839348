package domain

import "time"

// Reading is one gas level sample for a device. Readings are append-only:
// once recorded they are never mutated or deleted.
type Reading struct {
	ID         string
	DeviceID   string
	Level      float64 // percent full, 0–100
	RecordedAt time.Time
}
