// Package audit records account and device-ownership events, best-effort.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tanklink/backend/internal/audit/domain"
	auditrepo "tanklink/backend/internal/audit/repository"
)

// Actions recorded by the auth and device services.
const (
	ActionUserRegister  = "user.register"
	ActionUserLogin     = "user.login"
	ActionLoginFailure  = "user.login_failure"
	ActionUserLogout    = "user.logout"
	ActionDeviceClaim   = "device.claim"
	ActionDeviceRelease = "device.release"
)

// Logger writes a single audit event with explicit action/resource. LogEvent
// is best-effort: failures are logged and do not affect the caller.
type Logger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// StoreLogger implements Logger using the audit repository.
type StoreLogger struct {
	repo auditrepo.Repository
	log  *zap.Logger
}

// NewLogger returns a Logger that persists to repo. log may be nil.
func NewLogger(repo auditrepo.Repository, log *zap.Logger) *StoreLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &StoreLogger{repo: repo, log: log}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *StoreLogger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn("audit: write failed",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err))
	}
}

// Nop is a Logger that discards all events. Useful in tests.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string) {}
