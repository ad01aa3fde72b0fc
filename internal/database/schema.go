package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema is applied in order by EnsureSchema. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS client_state (
		instance_id TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (instance_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS driver_locations (
		driver_id   TEXT NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		speed       DOUBLE PRECISION,
		heading     DOUBLE PRECISION,
		recorded_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (driver_id, recorded_at)
	)`,
	`CREATE TABLE IF NOT EXISTS bin_fill_readings (
		bin_id      TEXT NOT NULL,
		sensor_id   TEXT,
		fill_level  DOUBLE PRECISION NOT NULL,
		temperature DOUBLE PRECISION,
		battery     DOUBLE PRECISION,
		reported_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (bin_id, reported_at)
	)`,
}

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
