// Package repository persists devices and their ownership transitions.
package repository

import (
	"context"

	"tanklink/backend/internal/device/domain"
)

// Repository is the device persistence interface. Implementations return
// (nil, nil) for missing rows and an error only for store failures.
//
// Claim and Release are conditional updates scoped by current ownership so
// that concurrent claims of the same serial are decided by the store, not by
// the last writer. Both report whether a row was actually updated.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	GetBySerial(ctx context.Context, serial string) (*domain.Device, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	// Claim sets the owner and display name on the device row, but only if
	// the row is currently unowned. Returns false when another principal won
	// the race (or the row is gone).
	Claim(ctx context.Context, id, userID, name string) (bool, error)
	// Release clears the owner on the device row, but only if userID is the
	// current owner. Returns false when the caller does not own the row.
	Release(ctx context.Context, id, userID string) (bool, error)
	// Create provisions a new unclaimed device row (seed/admin path).
	Create(ctx context.Context, d *domain.Device) error
}
