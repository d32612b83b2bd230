package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aquaflow/sensorhub/internal/sensor"
)

var ErrRecordNotFound = errors.New("record not found")

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ReadingModel is the insert-only durable store for accepted readings.
// The live path never reads back from it; it exists for offline
// analysis outside this service.
type ReadingModel struct {
	DB DBTX
}

func (m ReadingModel) Insert(ctx context.Context, r *sensor.Reading) error {
	query := `
		INSERT INTO sensor_readings (id, device_id, ph, turbidity, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	_, err := m.DB.ExecContext(ctx, query, r.ID, r.DeviceID, r.PH, r.Turbidity, r.Timestamp)
	return err
}

// LastRecorded returns the timestamp of the most recently persisted
// reading for a device. Used by operational tooling, not the live path.
func (m ReadingModel) LastRecorded(ctx context.Context, deviceID string) (time.Time, error) {
	query := `
		SELECT recorded_at FROM sensor_readings
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`

	var ts time.Time
	err := m.DB.QueryRowContext(ctx, query, deviceID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrRecordNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
