// Package repository persists login sessions.
package repository

import (
	"context"
	"time"

	"tanklink/backend/internal/session/domain"
)

// Repository is the session persistence interface. Implementations return
// (nil, nil) for missing rows and an error only for store failures.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}
