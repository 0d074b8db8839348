// Package handler exposes device ownership over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tanklink/backend/internal/device/domain"
	"tanklink/backend/internal/device/service"
	"tanklink/backend/internal/server/middleware"
	telemetrydomain "tanklink/backend/internal/telemetry/domain"
)

// Handler serves the /devices ownership routes.
type Handler struct {
	svc *service.Service
	log *zap.Logger
}

// NewHandler returns a device HTTP handler. log may be nil.
func NewHandler(svc *service.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the device routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/devices", h.list)
	g.POST("/devices", h.claim)
	g.DELETE("/devices/:id", h.release)
}

type claimRequest struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
}

type readingResponse struct {
	Level      float64   `json:"level"`
	RecordedAt time.Time `json:"recorded_at"`
}

type deviceResponse struct {
	ID           string           `json:"id"`
	SerialNumber string           `json:"serial_number"`
	Name         string           `json:"name"`
	ClaimedAt    *time.Time       `json:"claimed_at,omitempty"`
	LastReading  *readingResponse `json:"last_reading,omitempty"`
}

type listResponse struct {
	Devices []deviceResponse `json:"devices"`
	Stale   bool             `json:"stale"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toReadingResponse(r *telemetrydomain.Reading) *readingResponse {
	if r == nil {
		return nil
	}
	return &readingResponse{Level: r.Level, RecordedAt: r.RecordedAt}
}

func toDeviceResponse(d *domain.Device) deviceResponse {
	return deviceResponse{
		ID:           d.ID,
		SerialNumber: d.SerialNumber,
		Name:         d.DisplayName(),
		ClaimedAt:    d.ClaimedAt,
		LastReading:  toReadingResponse(d.LastReading),
	}
}

func toListResponse(devices []*domain.Device, stale bool) listResponse {
	out := listResponse{Devices: make([]deviceResponse, 0, len(devices)), Stale: stale}
	for _, d := range devices {
		out.Devices = append(out.Devices, toDeviceResponse(d))
	}
	return out
}

// list returns the caller's devices. When the store is down but a cached
// snapshot exists, the snapshot is served with stale=true instead of failing.
func (h *Handler) list(c echo.Context) error {
	userID, ok := middleware.GetUserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_session", "no active session"})
	}
	devices, err := h.svc.List(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			if devices != nil {
				return c.JSON(http.StatusOK, toListResponse(devices, true))
			}
			return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "device store unavailable"})
		}
		h.log.Error("device list failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "device list failed"})
	}
	return c.JSON(http.StatusOK, toListResponse(devices, false))
}

func (h *Handler) claim(c echo.Context) error {
	userID, ok := middleware.GetUserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_session", "no active session"})
	}
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_request", "invalid request body"})
	}
	serial := strings.TrimSpace(req.SerialNumber)
	if serial == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_input", "serial_number is required"})
	}
	device, err := h.svc.Claim(c.Request().Context(), userID, serial, strings.TrimSpace(req.Name))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownSerial):
			return c.JSON(http.StatusNotFound, errorResponse{"unknown_serial", "no device with this serial number"})
		case errors.Is(err, service.ErrDeviceAlreadyAdded):
			return c.JSON(http.StatusConflict, errorResponse{"already_added", "device already in your list"})
		case errors.Is(err, service.ErrDeviceAlreadyYours):
			return c.JSON(http.StatusConflict, errorResponse{"already_yours", "device already claimed by this account"})
		case errors.Is(err, service.ErrDeviceOwnedByOther):
			return c.JSON(http.StatusConflict, errorResponse{"owned_by_other", "device claimed by another account"})
		case errors.Is(err, service.ErrStoreUnavailable):
			return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "device store unavailable"})
		default:
			h.log.Error("device claim failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "device claim failed"})
		}
	}
	return c.JSON(http.StatusCreated, toDeviceResponse(device))
}

func (h *Handler) release(c echo.Context) error {
	userID, ok := middleware.GetUserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_session", "no active session"})
	}
	err := h.svc.Release(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotOwner):
			return c.JSON(http.StatusForbidden, errorResponse{"not_owner", "device not owned by this account"})
		case errors.Is(err, service.ErrStoreUnavailable):
			return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "device store unavailable"})
		default:
			h.log.Error("device release failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{"internal_error", "device release failed"})
		}
	}
	return c.NoContent(http.StatusNoContent)
}
