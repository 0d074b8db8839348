// Package repository persists users.
package repository

import (
	"context"

	"tanklink/backend/internal/user/domain"
)

// Repository is the user persistence interface. Implementations return
// (nil, nil) for missing rows and an error only for store failures.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
