package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	devicedomain "tanklink/backend/internal/device/domain"
	"tanklink/backend/internal/server/middleware"
	"tanklink/backend/internal/telemetry/domain"
)

type memDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*devicedomain.Device
}

func (r *memDeviceRepo) GetByID(ctx context.Context, id string) (*devicedomain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[id], nil
}

func (r *memDeviceRepo) GetBySerial(ctx context.Context, serial string) (*devicedomain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.SerialNumber == serial {
			return d, nil
		}
	}
	return nil, nil
}

func (r *memDeviceRepo) ListByUser(ctx context.Context, userID string) ([]*devicedomain.Device, error) {
	return nil, nil
}

func (r *memDeviceRepo) Claim(ctx context.Context, id, userID, name string) (bool, error) {
	return false, nil
}

func (r *memDeviceRepo) Release(ctx context.Context, id, userID string) (bool, error) {
	return false, nil
}

func (r *memDeviceRepo) Create(ctx context.Context, d *devicedomain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
	return nil
}

type memReadingRepo struct {
	mu       sync.Mutex
	byDevice map[string][]*domain.Reading
}

func (r *memReadingRepo) LatestByDevice(ctx context.Context, deviceID string) (*domain.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.byDevice[deviceID]
	if len(rs) == 0 {
		return nil, nil
	}
	return rs[len(rs)-1], nil
}

func (r *memReadingRepo) ListRecent(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.byDevice[deviceID]
	if len(rs) > limit {
		rs = rs[len(rs)-limit:]
	}
	return rs, nil
}

func (r *memReadingRepo) Insert(ctx context.Context, reading *domain.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDevice[reading.DeviceID] = append(r.byDevice[reading.DeviceID], reading)
	return nil
}

const testIngestKey = "test-ingest-key"

func newTestServer(t *testing.T, userID string) (*echo.Echo, *memDeviceRepo, *memReadingRepo) {
	t.Helper()
	devices := &memDeviceRepo{devices: map[string]*devicedomain.Device{}}
	readings := &memReadingRepo{byDevice: map[string][]*domain.Reading{}}
	h := NewHandler(readings, devices, testIngestKey, nil)

	e := echo.New()
	identity := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != "" {
				ctx := middleware.WithIdentity(c.Request().Context(), userID, "sess-1")
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
	h.Register(e.Group("/api/v1", identity))
	return e, devices, readings
}

func seedDevice(devices *memDeviceRepo, id, serial, owner string) {
	d := &devicedomain.Device{ID: id, SerialNumber: serial, CreatedAt: time.Now()}
	if owner != "" {
		d.UserID = &owner
	}
	devices.mu.Lock()
	devices.devices[id] = d
	devices.mu.Unlock()
}

func seedReadings(readings *memReadingRepo, deviceID string, levels []float64, step time.Duration) {
	start := time.Now().Add(-time.Duration(len(levels)) * step)
	for i, level := range levels {
		readings.byDevice[deviceID] = append(readings.byDevice[deviceID], &domain.Reading{
			ID:         deviceID + "-" + strings.Repeat("x", i+1),
			DeviceID:   deviceID,
			Level:      level,
			RecordedAt: start.Add(time.Duration(i) * step),
		})
	}
}

func TestHistoryWithEstimate(t *testing.T) {
	e, devices, readings := newTestServer(t, "user-1")
	seedDevice(devices, "dev-1", "SN-0001", "user-1")
	// 80 → 40 over four days burns 10/day: four days left.
	seedReadings(readings, "dev-1", []float64{80, 70, 60, 50, 40}, 24*time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/readings", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s; want 200", rec.Code, rec.Body.String())
	}
	var got struct {
		Readings []struct {
			Level float64 `json:"level"`
		} `json:"readings"`
		Estimate struct {
			Kind string `json:"kind"`
			Days int    `json:"days"`
		} `json:"estimate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Readings) != 5 {
		t.Fatalf("readings = %d; want 5", len(got.Readings))
	}
	if got.Estimate.Kind != "days" || got.Estimate.Days != 4 {
		t.Fatalf("estimate = %+v; want days/4", got.Estimate)
	}
}

func TestHistoryIndeterminateWithOneReading(t *testing.T) {
	e, devices, readings := newTestServer(t, "user-1")
	seedDevice(devices, "dev-1", "SN-0001", "user-1")
	seedReadings(readings, "dev-1", []float64{80}, 24*time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/readings", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var got struct {
		Estimate struct {
			Kind string `json:"kind"`
		} `json:"estimate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Estimate.Kind != "indeterminate" {
		t.Fatalf("estimate kind = %q; want indeterminate", got.Estimate.Kind)
	}
}

func TestHistoryAccessControl(t *testing.T) {
	e, devices, _ := newTestServer(t, "user-1")
	seedDevice(devices, "dev-owned", "SN-0001", "user-2")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-owned/readings", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("other's device: status = %d; want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-nope/readings", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device: status = %d; want 404", rec.Code)
	}
}

func TestIngest(t *testing.T) {
	e, devices, readings := newTestServer(t, "")
	seedDevice(devices, "dev-1", "SN-0001", "user-1")

	body := `{"serial_number":"SN-0001","level":73.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(ingestKeyHeader, testIngestKey)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s; want 202", rec.Code, rec.Body.String())
	}
	if got := readings.byDevice["dev-1"]; len(got) != 1 || got[0].Level != 73.5 {
		t.Fatalf("stored readings = %+v; want one at 73.5", got)
	}
}

func TestIngestRejectsBadKey(t *testing.T) {
	e, devices, _ := newTestServer(t, "")
	seedDevice(devices, "dev-1", "SN-0001", "user-1")

	body := `{"serial_number":"SN-0001","level":50}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(ingestKeyHeader, "wrong")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", rec.Code)
	}
}

func TestIngestValidation(t *testing.T) {
	e, _, _ := newTestServer(t, "")

	cases := []struct {
		body string
		want int
	}{
		{`{"serial_number":"SN-NOPE","level":50}`, http.StatusNotFound},
		{`{"serial_number":"","level":50}`, http.StatusBadRequest},
		{`{"serial_number":"SN-0001","level":150}`, http.StatusBadRequest},
		{`{"serial_number":"SN-0001","level":-1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(tc.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(ingestKeyHeader, testIngestKey)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("body %s: status = %d; want %d", tc.body, rec.Code, tc.want)
		}
	}
}
