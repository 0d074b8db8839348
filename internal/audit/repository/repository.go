// Package repository persists audit log entries.
package repository

import (
	"context"

	"tanklink/backend/internal/audit/domain"
)

// Repository is the audit log persistence interface.
type Repository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}
