// Package auth implements registration, sign-in, and sign-out against the
// user and session stores, and publishes session-change events.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tanklink/backend/internal/audit"
	"tanklink/backend/internal/security"
	"tanklink/backend/internal/server/middleware"
	sessiondomain "tanklink/backend/internal/session/domain"
	userdomain "tanklink/backend/internal/user/domain"
)

// Sentinel errors for the auth service; handlers map them to HTTP status codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountPending         = errors.New("account pending verification")
	ErrInvalidSession         = errors.New("invalid or expired session")
	ErrInvalidInput           = errors.New("invalid input")
)

// Result holds the outcome of a successful SignIn.
type Result struct {
	Token     string
	ExpiresAt time.Time
	User      *userdomain.User
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// Service implements password register, sign-in, sign-out, and token resolution.
type Service struct {
	userRepo            UserRepo
	sessionRepo         SessionRepo
	hasher              *security.Hasher
	tokens              *security.TokenProvider
	requireVerification bool
	notifier            *Notifier
	audit               audit.Logger
	log                 *zap.Logger
}

// NewService returns an auth Service with the given dependencies.
// auditLogger may be audit.Nop{}; log may be nil.
func NewService(
	userRepo UserRepo,
	sessionRepo SessionRepo,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	requireVerification bool,
	notifier *Notifier,
	auditLogger audit.Logger,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Service{
		userRepo:            userRepo,
		sessionRepo:         sessionRepo,
		hasher:              hasher,
		tokens:              tokens,
		requireVerification: requireVerification,
		notifier:            notifier,
		audit:               auditLogger,
		log:                 log,
	}
}

// Notifier returns the session-change notifier for subscribers.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// SignUp creates a user with the given email and password. The account starts
// pending when out-of-band verification is required; that state is surfaced
// on the returned user, distinct from a failure. SignUp does not start a
// session; callers sign in afterwards.
func (s *Service) SignUp(ctx context.Context, email, password string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	status := userdomain.UserStatusActive
	if s.requireVerification {
		status = userdomain.UserStatusPending
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, user.ID, audit.ActionUserRegister, user.ID, "")
	return user, nil
}

// SignIn authenticates with email/password, creates a session, and returns an
// access token. Subscribers are notified of the new principal before SignIn
// returns.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		s.audit.LogEvent(ctx, user.ID, audit.ActionLoginFailure, user.ID, "")
		return nil, ErrInvalidCredentials
	}
	switch user.Status {
	case userdomain.UserStatusActive:
	case userdomain.UserStatusPending:
		return nil, ErrAccountPending
	default:
		return nil, ErrInvalidCredentials
	}

	sessionID := uuid.New().String()
	token, _, expiresAt, err := s.tokens.IssueAccess(sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &sessiondomain.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, user.ID, audit.ActionUserLogin, sessionID, "")
	s.notifier.publish(user)
	return &Result{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// SignOut revokes the session identified in the request context and notifies
// subscribers with nil. A missing session in context is a no-op.
func (s *Service) SignOut(ctx context.Context) error {
	sessionID, ok := middleware.GetSessionID(ctx)
	if !ok {
		return nil
	}
	if err := s.sessionRepo.Revoke(ctx, sessionID); err != nil {
		return err
	}
	if userID, ok := middleware.GetUserID(ctx); ok {
		s.audit.LogEvent(ctx, userID, audit.ActionUserLogout, sessionID, "")
	}
	s.notifier.publish(nil)
	return nil
}

// CurrentPrincipal returns the user identified in the request context, or
// ErrInvalidSession when the context carries no identity.
func (s *Service) CurrentPrincipal(ctx context.Context) (*userdomain.User, error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		return nil, ErrInvalidSession
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidSession
	}
	return user, nil
}

// ResolveToken validates an access token against its server-side session and
// returns the principal and session id. Used by the auth middleware. Session
// last-seen is updated best-effort.
func (s *Service) ResolveToken(ctx context.Context, token string) (*userdomain.User, string, error) {
	sessionID, userID, err := s.tokens.ValidateAccess(token)
	if err != nil {
		return nil, "", ErrInvalidSession
	}
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if sess == nil || !sess.Active(time.Now().UTC()) {
		return nil, "", ErrInvalidSession
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, "", ErrInvalidSession
	}
	if err := s.sessionRepo.UpdateLastSeen(ctx, sessionID, time.Now().UTC()); err != nil {
		s.log.Debug("auth: update last seen failed", zap.Error(err))
	}
	return user, sessionID, nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	return nil
}
