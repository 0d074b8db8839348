package repository

import (
	"context"
	"database/sql"
	"errors"

	"tanklink/backend/internal/telemetry/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a reading repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LatestByDevice returns the most recent reading for the device, or nil if none exist.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) LatestByDevice(ctx context.Context, deviceID string) (*domain.Reading, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, device_id, level, recorded_at FROM gas_readings
		 WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT 1`, deviceID)
	var reading domain.Reading
	err := row.Scan(&reading.ID, &reading.DeviceID, &reading.Level, &reading.RecordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &reading, nil
}

// ListRecent returns up to limit most recent readings for the device, ordered
// ascending by recorded_at. The inner query selects the newest rows; the
// outer one restores chronological order for chart and estimate consumers.
func (r *PostgresRepository) ListRecent(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, level, recorded_at FROM (
		     SELECT id, device_id, level, recorded_at FROM gas_readings
		     WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT $2
		 ) recent ORDER BY recorded_at ASC`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Reading
	for rows.Next() {
		var reading domain.Reading
		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.Level, &reading.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, &reading)
	}
	return out, rows.Err()
}

// Insert appends the reading. The reading must have ID set.
func (r *PostgresRepository) Insert(ctx context.Context, reading *domain.Reading) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gas_readings (id, device_id, level, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		reading.ID, reading.DeviceID, reading.Level, reading.RecordedAt,
	)
	return err
}
