package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tanklink/backend/internal/audit"
	"tanklink/backend/internal/security"
	"tanklink/backend/internal/server/middleware"
	sessiondomain "tanklink/backend/internal/session/domain"
	userdomain "tanklink/backend/internal/user/domain"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*userdomain.User
	byEmail map[string]*userdomain.User
	err     error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		byID:    map[string]*userdomain.User{},
		byEmail: map[string]*userdomain.User{},
	}
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.byID[id], nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.byEmail[email], nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u
	return nil
}

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: map[string]*sessiondomain.Session{}}
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id], nil
}

func (r *memSessionRepo) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		t := time.Now()
		s.RevokedAt = &t
	}
	return nil
}

func (r *memSessionRepo) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastSeenAt = &at
	}
	return nil
}

func newTestService(t *testing.T, requireVerification bool) (*Service, *memUserRepo, *memSessionRepo) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("test token provider: %v", err)
	}
	users := newMemUserRepo()
	sessions := newMemSessionRepo()
	svc := NewService(users, sessions, security.NewHasher(4), tokens, requireVerification, NewNotifier(), audit.Nop{}, nil)
	return svc, users, sessions
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _, sessions := newTestService(t, false)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "Alice@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email = %q; want lowercased alice@example.com", user.Email)
	}
	if user.Status != userdomain.UserStatusActive {
		t.Fatalf("status = %q; want active", user.Status)
	}
	if user.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in plaintext")
	}

	res, err := svc.SignIn(ctx, "alice@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if res.Token == "" {
		t.Fatal("SignIn returned empty token")
	}
	if res.User.ID != user.ID {
		t.Fatalf("SignIn user = %q; want %q", res.User.ID, user.ID)
	}
	if len(sessions.m) != 1 {
		t.Fatalf("sessions created = %d; want 1", len(sessions.m))
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "bob@example.com", "password123"); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}
	_, err := svc.SignUp(ctx, "bob@example.com", "different456")
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("err = %v; want ErrEmailAlreadyRegistered", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "not-an-email", "password123"); err == nil {
		t.Fatal("SignUp with malformed email should fail")
	}
	if _, err := svc.SignUp(ctx, "ok@example.com", "short"); err == nil {
		t.Fatal("SignUp with short password should fail")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "carol@example.com", "password123"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	_, err := svc.SignIn(ctx, "carol@example.com", "wrongwrong1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v; want ErrInvalidCredentials", err)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t, false)

	_, err := svc.SignIn(context.Background(), "nobody@example.com", "password123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v; want ErrInvalidCredentials", err)
	}
}

func TestSignInPendingAccount(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "dave@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.Status != userdomain.UserStatusPending {
		t.Fatalf("status = %q; want pending", user.Status)
	}
	_, err = svc.SignIn(ctx, "dave@example.com", "password123")
	if !errors.Is(err, ErrAccountPending) {
		t.Fatalf("err = %v; want ErrAccountPending", err)
	}
}

func TestSignInDisabledAccount(t *testing.T) {
	svc, users, _ := newTestService(t, false)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "eve@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	users.byID[user.ID].Status = userdomain.UserStatusDisabled

	_, err = svc.SignIn(ctx, "eve@example.com", "password123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v; want ErrInvalidCredentials", err)
	}
}

func TestSignInNotifiesSubscribersSynchronously(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	var got []*userdomain.User
	svc.Notifier().Subscribe(func(principal *userdomain.User) {
		got = append(got, principal)
	})

	user, err := svc.SignUp(ctx, "fred@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	res, err := svc.SignIn(ctx, "fred@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(got) != 1 || got[0] == nil || got[0].ID != user.ID {
		t.Fatalf("expected one notification for %q before SignIn returned, got %v", user.ID, got)
	}

	sessionCtx := middleware.WithIdentity(ctx, user.ID, sessionIDFromToken(t, svc, res.Token))
	if err := svc.SignOut(sessionCtx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if len(got) != 2 || got[1] != nil {
		t.Fatalf("expected nil notification on sign-out, got %v", got)
	}
}

func TestSignOutRevokesSession(t *testing.T) {
	svc, _, sessions := newTestService(t, false)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "gina@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	res, err := svc.SignIn(ctx, "gina@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	sessionID := sessionIDFromToken(t, svc, res.Token)

	sessionCtx := middleware.WithIdentity(ctx, user.ID, sessionID)
	if err := svc.SignOut(sessionCtx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if sessions.m[sessionID].RevokedAt == nil {
		t.Fatal("session not revoked after SignOut")
	}

	// A token for a revoked session no longer resolves.
	if _, _, err := svc.ResolveToken(ctx, res.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("ResolveToken after SignOut: err = %v; want ErrInvalidSession", err)
	}
}

func TestSignOutWithoutSessionIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	if err := svc.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut without session: %v", err)
	}
}

func TestResolveToken(t *testing.T) {
	svc, _, sessions := newTestService(t, false)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "hank@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	res, err := svc.SignIn(ctx, "hank@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	got, sessionID, err := svc.ResolveToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("ResolveToken user = %q; want %q", got.ID, user.ID)
	}
	if sessions.m[sessionID].LastSeenAt == nil {
		t.Fatal("ResolveToken did not update session last seen")
	}

	if _, _, err := svc.ResolveToken(ctx, "garbage"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("ResolveToken(garbage): err = %v; want ErrInvalidSession", err)
	}
}

func TestCurrentPrincipal(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, "iris@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	got, err := svc.CurrentPrincipal(middleware.WithIdentity(ctx, user.ID, "sess"))
	if err != nil {
		t.Fatalf("CurrentPrincipal: %v", err)
	}
	if got.Email != "iris@example.com" {
		t.Fatalf("CurrentPrincipal email = %q", got.Email)
	}

	if _, err := svc.CurrentPrincipal(ctx); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("CurrentPrincipal without identity: err = %v; want ErrInvalidSession", err)
	}
}

// sessionIDFromToken resolves the token to recover the session id it carries.
func sessionIDFromToken(t *testing.T, svc *Service, token string) string {
	t.Helper()
	_, sessionID, err := svc.ResolveToken(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	return sessionID
}
