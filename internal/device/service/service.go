// Package service implements the device ownership operations: listing owned
// devices with their latest readings, claiming by serial number, and release.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tanklink/backend/internal/audit"
	"tanklink/backend/internal/device/domain"
	devicerepo "tanklink/backend/internal/device/repository"
	"tanklink/backend/internal/platform/cache"
	telemetryrepo "tanklink/backend/internal/telemetry/repository"
	userdomain "tanklink/backend/internal/user/domain"
)

// Sentinel errors for device ownership operations; handlers map them to HTTP
// status codes.
var (
	// ErrDeviceAlreadyAdded is the fast-path rejection when the caller's own
	// cached list already contains the serial.
	ErrDeviceAlreadyAdded = errors.New("device already added")
	// ErrUnknownSerial rejects serials with no provisioned device row. Blind
	// registration of arbitrary serials is intentionally disallowed.
	ErrUnknownSerial = errors.New("unknown device serial")
	// ErrDeviceOwnedByOther rejects claims of a device another account owns.
	ErrDeviceOwnedByOther = errors.New("device claimed by another account")
	// ErrDeviceAlreadyYours rejects a repeat claim of a device the caller
	// already owns. Surfaced rather than treated as a no-op so accidental
	// double-registration is visible to the user.
	ErrDeviceAlreadyYours = errors.New("device already claimed by this account")
	// ErrNotOwner is returned when a release matches zero rows.
	ErrNotOwner = errors.New("device not owned by caller")
	// ErrStoreUnavailable wraps store failures. List may return a cached
	// snapshot alongside it.
	ErrStoreUnavailable = errors.New("device store unavailable")
)

const snapshotTTL = 24 * time.Hour

// Service implements device ownership and list assembly on top of the device
// and reading repositories. A JSON snapshot of each principal's device list is
// kept in the KV store and entirely replaced after every mutation, never
// patched, so the cache cannot diverge from the store. The snapshot doubles as
// the stale fallback when the store is down.
type Service struct {
	devices      devicerepo.Repository
	readings     telemetryrepo.Repository
	kv           cache.KVStore
	storeTimeout time.Duration
	log          *zap.Logger
	audit        audit.Logger

	mu            sync.Mutex
	currentUserID string

	claimsTotal    metric.Int64Counter
	staleListTotal metric.Int64Counter
}

// NewService returns a device Service. auditLogger may be audit.Nop{}; log
// may be nil.
func NewService(
	devices devicerepo.Repository,
	readings telemetryrepo.Repository,
	kv cache.KVStore,
	storeTimeout time.Duration,
	auditLogger audit.Logger,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	meter := otel.Meter("tanklink/backend/device")
	claimsTotal, _ := meter.Int64Counter("device_claims_total",
		metric.WithDescription("Device claim attempts by result"))
	staleListTotal, _ := meter.Int64Counter("device_list_stale_total",
		metric.WithDescription("Device list requests served from the cached snapshot"))
	return &Service{
		devices:        devices,
		readings:       readings,
		kv:             kv,
		storeTimeout:   storeTimeout,
		log:            log,
		audit:          auditLogger,
		claimsTotal:    claimsTotal,
		staleListTotal: staleListTotal,
	}
}

// List returns the devices owned by userID with each device's most recent
// reading attached. Per-device reading fetches run concurrently; a single
// device's reading failure is logged and that device is returned without a
// last reading rather than failing the list.
//
// When the store itself is unavailable, List returns the last cached snapshot
// for the principal together with ErrStoreUnavailable; callers should render
// the stale list with a warning. With no snapshot, only the error is returned.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	devices, err := s.devices.ListByUser(storeCtx, userID)
	if err != nil {
		s.log.Warn("device list: store failed, trying snapshot",
			zap.String("user_id", userID), zap.Error(err))
		if cached, ok := s.loadSnapshot(ctx, userID); ok {
			s.staleListTotal.Add(ctx, 1)
			return cached, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.attachLatestReadings(ctx, devices)
	s.storeSnapshot(ctx, userID, devices)
	return devices, nil
}

// attachLatestReadings fans out one reading fetch per device and joins before
// returning, bounding latency to a single round trip regardless of device
// count. Individual failures leave LastReading nil.
func (s *Service) attachLatestReadings(ctx context.Context, devices []*domain.Device) {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		d := d
		g.Go(func() error {
			readCtx, cancel := context.WithTimeout(gctx, s.storeTimeout)
			defer cancel()
			reading, err := s.readings.LatestByDevice(readCtx, d.ID)
			if err != nil {
				s.log.Warn("device list: latest reading fetch failed",
					zap.String("device_id", d.ID), zap.Error(err))
				return nil
			}
			d.LastReading = reading
			return nil
		})
	}
	_ = g.Wait()
}

// Claim associates the device with the given serial to userID.
//
// Rejections, in order: the caller's cached list already holds the serial;
// the serial is not provisioned; the device belongs to another account; the
// device already belongs to the caller. Otherwise ownership is taken with a
// conditional update that only matches an unowned row, so concurrent claims
// of the same serial are decided by the store. After a successful claim the
// full list is refetched and the claimed device returned from it.
func (s *Service) Claim(ctx context.Context, userID, serial, desiredName string) (*domain.Device, error) {
	if cached, ok := s.loadSnapshot(ctx, userID); ok {
		for _, d := range cached {
			if d.SerialNumber == serial {
				s.countClaim(ctx, "already_added")
				return nil, ErrDeviceAlreadyAdded
			}
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	device, err := s.devices.GetBySerial(storeCtx, serial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if device == nil {
		s.countClaim(ctx, "unknown_serial")
		return nil, ErrUnknownSerial
	}
	if device.UserID != nil {
		if *device.UserID == userID {
			s.countClaim(ctx, "already_yours")
			return nil, ErrDeviceAlreadyYours
		}
		s.countClaim(ctx, "owned_by_other")
		return nil, ErrDeviceOwnedByOther
	}

	name := desiredName
	if name == "" {
		name = domain.DefaultName(serial)
	}
	claimed, err := s.devices.Claim(storeCtx, device.ID, userID, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !claimed {
		// Lost the race: the conditional update matched zero rows. Re-resolve
		// so the caller sees the true current state.
		s.countClaim(ctx, "lost_race")
		fresh, ferr := s.devices.GetBySerial(storeCtx, serial)
		if ferr == nil && fresh != nil && fresh.OwnedBy(userID) {
			return nil, ErrDeviceAlreadyYours
		}
		if ferr == nil && fresh == nil {
			return nil, ErrUnknownSerial
		}
		return nil, ErrDeviceOwnedByOther
	}

	s.countClaim(ctx, "claimed")
	s.audit.LogEvent(ctx, userID, audit.ActionDeviceClaim, device.ID, serial)

	// Replace the snapshot wholesale so cache and store cannot diverge.
	s.dropSnapshot(ctx, userID)
	list, listErr := s.List(ctx, userID)
	if listErr == nil {
		for _, d := range list {
			if d.ID == device.ID {
				return d, nil
			}
		}
	}
	// Claim persisted but the refresh could not confirm it; return the row as
	// claimed so the caller is not told a successful mutation failed.
	s.log.Warn("device claim: list refresh failed after claim",
		zap.String("device_id", device.ID), zap.Error(listErr))
	now := time.Now().UTC()
	out := *device
	out.UserID = &userID
	out.Name = &name
	out.ClaimedAt = &now
	return &out, nil
}

// Release clears ownership of the device. The update is scoped by both device
// id and owner, so a non-owner's attempt matches zero rows and is surfaced as
// ErrNotOwner. The device row and its reading history are kept.
func (s *Service) Release(ctx context.Context, userID, deviceID string) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	released, err := s.devices.Release(storeCtx, deviceID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !released {
		return ErrNotOwner
	}

	s.audit.LogEvent(ctx, userID, audit.ActionDeviceRelease, deviceID, "")

	// Drop first so a failed refresh cannot leave the released device in the
	// snapshot; the refresh repopulates it on success.
	s.dropSnapshot(ctx, userID)
	if _, err := s.List(ctx, userID); err != nil {
		s.log.Warn("device release: list refresh failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// OnSessionChange implements the session-change listener contract: it runs
// synchronously inside sign-in and sign-out and drops the snapshot of both
// the outgoing and incoming principal, so a device list can never be shown
// for the wrong account, even momentarily.
func (s *Service) OnSessionChange(principal *userdomain.User) {
	s.mu.Lock()
	previous := s.currentUserID
	if principal != nil {
		s.currentUserID = principal.ID
	} else {
		s.currentUserID = ""
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if previous != "" {
		s.dropSnapshot(ctx, previous)
	}
	if principal != nil && principal.ID != previous {
		s.dropSnapshot(ctx, principal.ID)
	}
}

func snapshotKey(userID string) string {
	return "devices:snapshot:" + userID
}

func (s *Service) loadSnapshot(ctx context.Context, userID string) ([]*domain.Device, bool) {
	raw, err := s.kv.Get(ctx, snapshotKey(userID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("device snapshot: read failed", zap.Error(err))
		}
		return nil, false
	}
	var devices []*domain.Device
	if err := json.Unmarshal([]byte(raw), &devices); err != nil {
		s.log.Warn("device snapshot: corrupt entry dropped", zap.Error(err))
		s.dropSnapshot(ctx, userID)
		return nil, false
	}
	return devices, true
}

func (s *Service) storeSnapshot(ctx context.Context, userID string, devices []*domain.Device) {
	raw, err := json.Marshal(devices)
	if err != nil {
		s.log.Warn("device snapshot: marshal failed", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, snapshotKey(userID), string(raw), snapshotTTL); err != nil {
		s.log.Warn("device snapshot: write failed", zap.Error(err))
	}
}

func (s *Service) dropSnapshot(ctx context.Context, userID string) {
	if err := s.kv.Delete(ctx, snapshotKey(userID)); err != nil {
		s.log.Warn("device snapshot: delete failed", zap.Error(err))
	}
}

func (s *Service) countClaim(ctx context.Context, result string) {
	s.claimsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
