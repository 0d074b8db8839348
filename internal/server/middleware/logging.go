package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestLogger returns echo middleware that logs one structured line per
// request after the handler finishes. Health checks are skipped to keep probe
// noise out of the logs.
func RequestLogger(log *zap.Logger, skipPaths map[string]bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if skipPaths[c.Path()] {
				return err
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("client_ip", c.RealIP()),
			}
			if userID, ok := GetUserID(c.Request().Context()); ok {
				fields = append(fields, zap.String("user_id", userID))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			log.Info("http request", fields...)
			return err
		}
	}
}

// Trace returns echo middleware that wraps each request in an OpenTelemetry
// server span named after the route pattern.
func Trace(tracerName string) echo.MiddlewareFunc {
	tracer := otel.Tracer(tracerName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracer.Start(c.Request().Context(),
				c.Request().Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", c.Request().Method),
					attribute.String("http.route", c.Path()),
				),
			)
			defer span.End()
			c.SetRequest(c.Request().WithContext(ctx))
			err := next(c)
			span.SetAttributes(attribute.Int("http.status_code", c.Response().Status))
			if err != nil {
				span.RecordError(err)
			}
			return err
		}
	}
}
