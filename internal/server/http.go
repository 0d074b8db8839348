// Package server assembles the echo HTTP server: middleware chain, public
// route set, and handler registration.
package server

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"tanklink/backend/internal/auth"
	authhandler "tanklink/backend/internal/auth/handler"
	devicehandler "tanklink/backend/internal/device/handler"
	devicerepo "tanklink/backend/internal/device/repository"
	deviceservice "tanklink/backend/internal/device/service"
	healthhandler "tanklink/backend/internal/health/handler"
	"tanklink/backend/internal/server/middleware"
	telemetryhandler "tanklink/backend/internal/telemetry/handler"
	telemetryrepo "tanklink/backend/internal/telemetry/repository"
)

// Options carries the dependencies for the HTTP server.
type Options struct {
	Log           *zap.Logger
	AuthService   *auth.Service
	DeviceService *deviceservice.Service
	DeviceRepo    devicerepo.Repository
	ReadingRepo   telemetryrepo.Repository
	IngestKey     string
	DB            *sql.DB // health probe; may be nil
}

// publicPaths lists route patterns that do not require a bearer token.
// Registration and login are anonymous by nature; the ingest route carries
// its own key-based authentication.
var publicPaths = map[string]bool{
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
	"/api/v1/readings":      true,
}

// New builds the echo instance with the full middleware chain and all routes
// registered. Callers own startup and shutdown.
func New(opts Options) *echo.Echo {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.Trace("tanklink/backend/http"))
	e.Use(middleware.RequestLogger(log, map[string]bool{"/healthz": true}))

	healthhandler.NewHandler(opts.DB).Register(e)

	api := e.Group("/api/v1", middleware.Auth(opts.AuthService, publicPaths))
	authhandler.NewHandler(opts.AuthService, log).Register(api)
	devicehandler.NewHandler(opts.DeviceService, log).Register(api)
	telemetryhandler.NewHandler(opts.ReadingRepo, opts.DeviceRepo, opts.IngestKey, log).Register(api)

	return e
}
