package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	userdomain "tanklink/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// PrincipalResolver turns a bearer token into the authenticated user and the
// id of the session that issued it. Implemented by the auth service.
type PrincipalResolver interface {
	ResolveToken(ctx context.Context, token string) (*userdomain.User, string, error)
}

// Auth returns echo middleware that validates the Bearer (access) token from
// the Authorization header and sets user_id and session_id in the request
// context for protected routes. Routes whose path is listed in publicPaths do
// not require a token; a valid token on a public route still populates the
// context so handlers can personalize responses.
func Auth(resolver PrincipalResolver, publicPaths map[string]bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			public := publicPaths[c.Path()]
			token := extractBearer(c.Request().Header.Get(echo.HeaderAuthorization))

			if token == "" {
				if public {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid authorization")
			}

			user, sessionID, err := resolver.ResolveToken(c.Request().Context(), token)
			if err != nil {
				if public {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid authorization")
			}

			ctx := WithIdentity(c.Request().Context(), user.ID, sessionID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// extractBearer returns the Bearer token from the header value, or "" if
// missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
