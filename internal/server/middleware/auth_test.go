package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	userdomain "tanklink/backend/internal/user/domain"
)

type fakeResolver struct {
	user      *userdomain.User
	sessionID string
	err       error
}

func (f *fakeResolver) ResolveToken(ctx context.Context, token string) (*userdomain.User, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.user, f.sessionID, nil
}

func doRequest(t *testing.T, mw echo.MiddlewareFunc, path, authHeader string) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	e := echo.New()
	var captured context.Context
	handler := func(c echo.Context) error {
		captured = c.Request().Context()
		return c.NoContent(http.StatusOK)
	}
	e.GET(path, handler, mw)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, captured
}

func TestAuthValidToken(t *testing.T) {
	resolver := &fakeResolver{
		user:      &userdomain.User{ID: "user-1", Status: userdomain.UserStatusActive},
		sessionID: "sess-1",
	}
	mw := Auth(resolver, nil)

	rec, ctx := doRequest(t, mw, "/api/v1/devices", "Bearer good-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if userID, _ := GetUserID(ctx); userID != "user-1" {
		t.Fatalf("user_id in context = %q; want user-1", userID)
	}
	if sessionID, _ := GetSessionID(ctx); sessionID != "sess-1" {
		t.Fatalf("session_id in context = %q; want sess-1", sessionID)
	}
}

func TestAuthMissingToken(t *testing.T) {
	mw := Auth(&fakeResolver{}, nil)

	rec, _ := doRequest(t, mw, "/api/v1/devices", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rec.Code)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	mw := Auth(&fakeResolver{err: errors.New("bad token")}, nil)

	rec, _ := doRequest(t, mw, "/api/v1/devices", "Bearer stale-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rec.Code)
	}
}

func TestAuthPublicPathWithoutToken(t *testing.T) {
	public := map[string]bool{"/api/v1/auth/login": true}
	mw := Auth(&fakeResolver{}, public)

	rec, ctx := doRequest(t, mw, "/api/v1/auth/login", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if _, ok := GetUserID(ctx); ok {
		t.Fatal("anonymous public request should not carry a user_id")
	}
}

func TestAuthPublicPathWithBadToken(t *testing.T) {
	public := map[string]bool{"/api/v1/auth/login": true}
	mw := Auth(&fakeResolver{err: errors.New("bad token")}, public)

	rec, _ := doRequest(t, mw, "/api/v1/auth/login", "Bearer stale-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extractBearer(tc.header); got != tc.want {
			t.Errorf("extractBearer(%q) = %q; want %q", tc.header, got, tc.want)
		}
	}
}
