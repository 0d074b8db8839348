// Command seed provisions local development data: a dev account, a handful of
// unclaimed devices, and a week of gas readings per device. Safe to re-run;
// existing rows are left alone.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"tanklink/backend/internal/config"
	"tanklink/backend/internal/db"
	devicedomain "tanklink/backend/internal/device/domain"
	devicerepo "tanklink/backend/internal/device/repository"
	"tanklink/backend/internal/security"
	telemetrydomain "tanklink/backend/internal/telemetry/domain"
	telemetryrepo "tanklink/backend/internal/telemetry/repository"
	userdomain "tanklink/backend/internal/user/domain"
	userrepo "tanklink/backend/internal/user/repository"
)

const (
	devEmail    = "dev@tanklink.local"
	devPassword = "devpassword"
)

var seedSerials = []string{
	"GT-20240001",
	"GT-20240002",
	"GT-20240003",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(pool)
	devices := devicerepo.NewPostgresRepository(pool)
	readings := telemetryrepo.NewPostgresRepository(pool)

	if err := seedUser(ctx, users, cfg.BcryptCost); err != nil {
		log.Fatalf("seed user: %v", err)
	}
	if err := seedDevices(ctx, devices, readings); err != nil {
		log.Fatalf("seed devices: %v", err)
	}
	log.Println("seed: done")
}

func seedUser(ctx context.Context, users *userrepo.PostgresRepository, bcryptCost int) error {
	existing, err := users.GetByEmail(ctx, devEmail)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Printf("seed: user %s exists", devEmail)
		return nil
	}
	hash, err := security.NewHasher(bcryptCost).Hash([]byte(devPassword))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        devEmail,
		PasswordHash: hash,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		return err
	}
	log.Printf("seed: created user %s (password %q)", devEmail, devPassword)
	return nil
}

func seedDevices(ctx context.Context, devices *devicerepo.PostgresRepository, readings *telemetryrepo.PostgresRepository) error {
	for i, serial := range seedSerials {
		device, err := devices.GetBySerial(ctx, serial)
		if err != nil {
			return err
		}
		if device == nil {
			device = &devicedomain.Device{
				ID:           uuid.New().String(),
				SerialNumber: serial,
				CreatedAt:    time.Now().UTC(),
			}
			if err := devices.Create(ctx, device); err != nil {
				return err
			}
			log.Printf("seed: provisioned device %s", serial)
		}

		latest, err := readings.LatestByDevice(ctx, device.ID)
		if err != nil {
			return err
		}
		if latest != nil {
			continue
		}
		if err := seedReadings(ctx, readings, device.ID, i); err != nil {
			return err
		}
		log.Printf("seed: readings for %s", serial)
	}
	return nil
}

// seedReadings writes one reading per day over the past week, draining from a
// per-device starting level so each tank projects a different estimate.
func seedReadings(ctx context.Context, readings *telemetryrepo.PostgresRepository, deviceID string, offset int) error {
	start := 88.0 - float64(offset)*6
	now := time.Now().UTC()
	for day := 0; day < 7; day++ {
		r := &telemetrydomain.Reading{
			ID:         uuid.New().String(),
			DeviceID:   deviceID,
			Level:      start - float64(day)*6,
			RecordedAt: now.AddDate(0, 0, day-6),
		}
		if err := readings.Insert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
