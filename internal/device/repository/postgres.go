package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tanklink/backend/internal/device/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `id, serial_number, user_id, device_name, created_at, claimed_at`

// GetByID returns the device for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	return scanDevice(row)
}

// GetBySerial returns the device for serial, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetBySerial(ctx context.Context, serial string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE serial_number = $1`, serial)
	return scanDevice(row)
}

// ListByUser returns all devices owned by userID in insertion order.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Claim sets user_id and device_name on the row, conditional on the row being
// unowned. The WHERE user_id IS NULL guard makes concurrent claims of the
// same serial race safely: exactly one update affects a row.
func (r *PostgresRepository) Claim(ctx context.Context, id, userID, name string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET user_id = $2, device_name = $3, claimed_at = $4
		 WHERE id = $1 AND user_id IS NULL`,
		id, userID, name, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release clears user_id on the row, conditional on userID being the current
// owner. The device row and its readings survive for a later re-claim.
func (r *PostgresRepository) Release(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET user_id = NULL, claimed_at = NULL
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create provisions the device row. The device must have ID and SerialNumber set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, serial_number, user_id, device_name, created_at, claimed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.SerialNumber, ptrToNullString(d.UserID), ptrToNullString(d.Name),
		d.CreatedAt, ptrToNullTime(d.ClaimedAt),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row *sql.Row) (*domain.Device, error) {
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func scanDeviceRow(s rowScanner) (*domain.Device, error) {
	var d domain.Device
	var userID, name sql.NullString
	var claimedAt sql.NullTime
	if err := s.Scan(&d.ID, &d.SerialNumber, &userID, &name, &d.CreatedAt, &claimedAt); err != nil {
		return nil, err
	}
	d.UserID = nullStringToPtr(userID)
	d.Name = nullStringToPtr(name)
	d.ClaimedAt = nullTimeToPtr(claimedAt)
	return &d, nil
}

func nullStringToPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func ptrToNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func ptrToNullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}
