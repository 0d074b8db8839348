// Package repository persists gas readings.
package repository

import (
	"context"

	"tanklink/backend/internal/telemetry/domain"
)

// Repository is the gas reading persistence interface. The reading log is
// append-only; there are no update or delete operations.
type Repository interface {
	// LatestByDevice returns the reading with the maximum recorded_at for the
	// device, or nil if the device has no readings yet.
	LatestByDevice(ctx context.Context, deviceID string) (*domain.Reading, error)
	// ListRecent returns up to limit most recent readings for the device,
	// ordered ascending by recorded_at.
	ListRecent(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error)
	Insert(ctx context.Context, r *domain.Reading) error
}
