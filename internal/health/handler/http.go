// Package handler exposes the liveness/readiness probe.
package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler serves /healthz. With a db configured the probe also pings it, so
// readiness reflects store connectivity.
type Handler struct {
	db *sql.DB
}

// NewHandler returns a health handler. db may be nil.
func NewHandler(db *sql.DB) *Handler {
	return &Handler{db: db}
}

// Register mounts the health route on the echo instance (outside /api/v1).
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.check)
}

func (h *Handler) check(c echo.Context) error {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"reason": "database unreachable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
