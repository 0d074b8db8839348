// Package handler exposes the auth service over HTTP.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tanklink/backend/internal/auth"
	userdomain "tanklink/backend/internal/user/domain"
)

// Handler serves the /auth routes.
type Handler struct {
	svc *auth.Service
	log *zap.Logger
}

// NewHandler returns an auth HTTP handler. log may be nil.
func NewHandler(svc *auth.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the auth routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/auth/register", h.register)
	g.POST("/auth/login", h.login)
	g.POST("/auth/logout", h.logout)
	g.GET("/auth/session", h.session)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toUserResponse(u *userdomain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) register(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_request", "invalid request body"})
	}
	user, err := h.svc.SignUp(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailAlreadyRegistered):
			return c.JSON(http.StatusConflict, errorResponse{"email_already_registered", err.Error()})
		case errors.Is(err, auth.ErrInvalidInput):
			return c.JSON(http.StatusBadRequest, errorResponse{"invalid_input", err.Error()})
		default:
			h.log.Error("register failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "registration failed"})
		}
	}
	return c.JSON(http.StatusCreated, toUserResponse(user))
}

func (h *Handler) login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_request", "invalid request body"})
	}
	res, err := h.svc.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_credentials", "invalid email or password"})
		case errors.Is(err, auth.ErrAccountPending):
			return c.JSON(http.StatusForbidden, errorResponse{"account_pending", "account is pending verification"})
		default:
			h.log.Error("login failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "login failed"})
		}
	}
	return c.JSON(http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      toUserResponse(res.User),
	})
}

func (h *Handler) logout(c echo.Context) error {
	if err := h.svc.SignOut(c.Request().Context()); err != nil {
		h.log.Error("logout failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) session(c echo.Context) error {
	user, err := h.svc.CurrentPrincipal(c.Request().Context())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_session", "no active session"})
		}
		h.log.Error("session lookup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "session lookup failed"})
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}
