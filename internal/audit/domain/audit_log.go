package domain

import "time"

// AuditLog is one recorded account or device-ownership event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	Metadata  string
	CreatedAt time.Time
}
