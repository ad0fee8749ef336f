package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are idempotent DDL statements applied in order at startup.
// Later entries are the incremental migrations added after the initial
// schema (extended NUT fields, token_hash, installation/server ids,
// alias/hidden flags and the targeting index).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ups (
		ups_id                  TEXT PRIMARY KEY,
		data_source             TEXT NOT NULL DEFAULT 'nut',
		status                  TEXT NOT NULL,
		ups_status_raw          TEXT,
		battery_percent         INTEGER,
		runtime_minutes         INTEGER,
		battery_runtime_seconds INTEGER,
		load_percent            INTEGER,
		input_voltage           DOUBLE PRECISION,
		output_voltage          DOUBLE PRECISION,
		consecutive_failures    INTEGER NOT NULL DEFAULT 0,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT ups_id_lowercase CHECK (ups_id = lower(ups_id))
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id           BIGSERIAL PRIMARY KEY,
		ups_id       TEXT NOT NULL,
		device_token TEXT NOT NULL,
		environment  TEXT NOT NULL DEFAULT 'sandbox',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT devices_legacy_unique UNIQUE (ups_id, device_token, environment)
	)`,

	// Extended NUT fields mirrored from LIST VAR.
	`ALTER TABLE ups
		ADD COLUMN IF NOT EXISTS battery_charge_warning  INTEGER,
		ADD COLUMN IF NOT EXISTS battery_charge_low      INTEGER,
		ADD COLUMN IF NOT EXISTS battery_runtime_low     INTEGER,
		ADD COLUMN IF NOT EXISTS battery_voltage         DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS battery_voltage_nominal DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS battery_type            TEXT,
		ADD COLUMN IF NOT EXISTS battery_date            TEXT,
		ADD COLUMN IF NOT EXISTS battery_mfr_date        TEXT,
		ADD COLUMN IF NOT EXISTS device_mfr              TEXT,
		ADD COLUMN IF NOT EXISTS device_model            TEXT,
		ADD COLUMN IF NOT EXISTS device_serial           TEXT,
		ADD COLUMN IF NOT EXISTS device_type             TEXT,
		ADD COLUMN IF NOT EXISTS driver_name             TEXT,
		ADD COLUMN IF NOT EXISTS driver_version          TEXT,
		ADD COLUMN IF NOT EXISTS driver_version_internal TEXT,
		ADD COLUMN IF NOT EXISTS driver_version_data     TEXT,
		ADD COLUMN IF NOT EXISTS driver_poll_freq        INTEGER,
		ADD COLUMN IF NOT EXISTS driver_poll_interval    INTEGER,
		ADD COLUMN IF NOT EXISTS input_voltage_nominal   DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS input_transfer_low      DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS input_transfer_high     DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS output_frequency        DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS output_voltage_nominal  DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS ups_beeper_status       TEXT,
		ADD COLUMN IF NOT EXISTS ups_delay_shutdown      INTEGER,
		ADD COLUMN IF NOT EXISTS ups_delay_start         INTEGER,
		ADD COLUMN IF NOT EXISTS ups_timer_shutdown      INTEGER,
		ADD COLUMN IF NOT EXISTS ups_timer_start         INTEGER,
		ADD COLUMN IF NOT EXISTS ups_timer_reboot        INTEGER,
		ADD COLUMN IF NOT EXISTS ups_firmware            TEXT,
		ADD COLUMN IF NOT EXISTS ups_mfr                 TEXT,
		ADD COLUMN IF NOT EXISTS ups_model               TEXT,
		ADD COLUMN IF NOT EXISTS ups_serial              TEXT,
		ADD COLUMN IF NOT EXISTS ups_vendorid            TEXT,
		ADD COLUMN IF NOT EXISTS ups_productid           TEXT,
		ADD COLUMN IF NOT EXISTS ups_realpower_nominal   INTEGER,
		ADD COLUMN IF NOT EXISTS ups_test_result         TEXT`,

	`ALTER TABLE devices
		ADD COLUMN IF NOT EXISTS ups_alias       TEXT,
		ADD COLUMN IF NOT EXISTS token_hash      TEXT NOT NULL DEFAULT '',
		ADD COLUMN IF NOT EXISTS installation_id UUID,
		ADD COLUMN IF NOT EXISTS server_id       TEXT,
		ADD COLUMN IF NOT EXISTS ups_hidden      BOOLEAN NOT NULL DEFAULT FALSE`,

	`CREATE INDEX IF NOT EXISTS idx_devices_token_hash ON devices (token_hash)`,

	`CREATE INDEX IF NOT EXISTS idx_devices_targeting
		ON devices (ups_id, environment, server_id, ups_hidden)`,
}

// Migrate applies the schema. Every statement is idempotent, so the
// whole list runs on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
