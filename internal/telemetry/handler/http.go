// Package handler exposes reading history and the sensor ingest endpoint.
package handler

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	devicerepo "tanklink/backend/internal/device/repository"
	"tanklink/backend/internal/server/middleware"
	"tanklink/backend/internal/telemetry"
	"tanklink/backend/internal/telemetry/domain"
	telemetryrepo "tanklink/backend/internal/telemetry/repository"
)

// ingestKeyHeader authenticates sensors posting readings. Sensors are not
// principals; they share a deployment-wide key.
const ingestKeyHeader = "X-Ingest-Key"

const defaultHistoryLimit = 30

// Handler serves reading history for owners and the ingest route for sensors.
type Handler struct {
	readings  telemetryrepo.Repository
	devices   devicerepo.Repository
	ingestKey string
	log       *zap.Logger
}

// NewHandler returns a telemetry HTTP handler. An empty ingestKey disables
// the ingest route. log may be nil.
func NewHandler(readings telemetryrepo.Repository, devices devicerepo.Repository, ingestKey string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{readings: readings, devices: devices, ingestKey: ingestKey, log: log}
}

// Register mounts the telemetry routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/devices/:id/readings", h.history)
	g.POST("/readings", h.ingest)
}

type readingResponse struct {
	Level      float64   `json:"level"`
	RecordedAt time.Time `json:"recorded_at"`
}

type historyResponse struct {
	Readings []readingResponse           `json:"readings"`
	Estimate telemetry.DepletionEstimate `json:"estimate"`
}

type ingestRequest struct {
	SerialNumber string     `json:"serial_number"`
	Level        float64    `json:"level"`
	RecordedAt   *time.Time `json:"recorded_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// history returns the recent readings for a device the caller owns, oldest
// first, together with the depletion estimate over that window.
func (h *Handler) history(c echo.Context) error {
	userID, ok := middleware.GetUserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_session", "no active session"})
	}
	device, err := h.devices.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.log.Error("reading history: device lookup failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "device store unavailable"})
	}
	if device == nil {
		return c.JSON(http.StatusNotFound, errorResponse{"not_found", "device not found"})
	}
	if !device.OwnedBy(userID) {
		return c.JSON(http.StatusForbidden, errorResponse{"not_owner", "device not owned by this account"})
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, errorResponse{"invalid_input", "limit must be a positive integer"})
		}
		limit = n
	}
	readings, err := h.readings.ListRecent(c.Request().Context(), device.ID, limit)
	if err != nil {
		h.log.Error("reading history: fetch failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "reading store unavailable"})
	}

	out := historyResponse{
		Readings: make([]readingResponse, 0, len(readings)),
		Estimate: telemetry.EstimateDaysRemaining(readings),
	}
	for _, r := range readings {
		out.Readings = append(out.Readings, readingResponse{Level: r.Level, RecordedAt: r.RecordedAt})
	}
	return c.JSON(http.StatusOK, out)
}

// ingest records one reading posted by a sensor, authenticated by the shared
// ingest key. Readings for unprovisioned serials are rejected.
func (h *Handler) ingest(c echo.Context) error {
	if h.ingestKey == "" {
		return c.JSON(http.StatusNotFound, errorResponse{"not_found", "ingest disabled"})
	}
	key := c.Request().Header.Get(ingestKeyHeader)
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.ingestKey)) != 1 {
		return c.JSON(http.StatusUnauthorized, errorResponse{"invalid_ingest_key", "missing or invalid ingest key"})
	}

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_request", "invalid request body"})
	}
	serial := strings.TrimSpace(req.SerialNumber)
	if serial == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_input", "serial_number is required"})
	}
	if req.Level < 0 || req.Level > 100 {
		return c.JSON(http.StatusBadRequest, errorResponse{"invalid_input", "level must be between 0 and 100"})
	}

	device, err := h.devices.GetBySerial(c.Request().Context(), serial)
	if err != nil {
		h.log.Error("ingest: device lookup failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "device store unavailable"})
	}
	if device == nil {
		return c.JSON(http.StatusNotFound, errorResponse{"unknown_serial", "no device with this serial number"})
	}

	recordedAt := time.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}
	reading := &domain.Reading{
		ID:         uuid.New().String(),
		DeviceID:   device.ID,
		Level:      req.Level,
		RecordedAt: recordedAt,
	}
	if err := h.readings.Insert(c.Request().Context(), reading); err != nil {
		h.log.Error("ingest: insert failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{"store_unavailable", "reading store unavailable"})
	}
	return c.NoContent(http.StatusAccepted)
}
