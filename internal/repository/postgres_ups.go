package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/models"
)

// upsColumns is the full column list of the ups table, in the order
// every scan in this file uses.
var upsColumns = []string{
	"ups_id", "data_source", "status", "ups_status_raw",
	"battery_percent", "runtime_minutes", "battery_runtime_seconds", "load_percent",
	"input_voltage", "output_voltage",
	"battery_charge_warning", "battery_charge_low", "battery_runtime_low",
	"battery_voltage", "battery_voltage_nominal", "battery_type", "battery_date", "battery_mfr_date",
	"device_mfr", "device_model", "device_serial", "device_type",
	"driver_name", "driver_version", "driver_version_internal", "driver_version_data",
	"driver_poll_freq", "driver_poll_interval",
	"input_voltage_nominal", "input_transfer_low", "input_transfer_high",
	"output_frequency", "output_voltage_nominal",
	"ups_beeper_status", "ups_delay_shutdown", "ups_delay_start",
	"ups_timer_shutdown", "ups_timer_start", "ups_timer_reboot",
	"ups_firmware", "ups_mfr", "ups_model", "ups_serial", "ups_vendorid", "ups_productid",
	"ups_realpower_nominal", "ups_test_result",
	"consecutive_failures", "created_at", "updated_at",
}

// snapshotColumns are the columns written on every successful poll:
// everything except ups_id, data_source, consecutive_failures and the
// timestamps.
var snapshotColumns = upsColumns[2:47]

// metricColumns are the columns nulled when a UPS is demoted to
// ups_offline: the snapshot columns minus status itself.
var metricColumns = upsColumns[3:47]

type PostgresUPSRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresUPSRepo(db *sql.DB, logger *zap.Logger) *PostgresUPSRepo {
	return &PostgresUPSRepo{db: db, logger: logger}
}

func (r *PostgresUPSRepo) Upsert(ctx context.Context, snap models.UPS) (models.UPS, *models.UPSStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UPS{}, nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var prev *models.UPSStatus
	var prevStatus models.UPSStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM ups WHERE ups_id = $1 FOR UPDATE`, snap.UPSID).Scan(&prevStatus)
	switch {
	case err == nil:
		prev = &prevStatus
	case errors.Is(err, sql.ErrNoRows):
		// first successful poll for this ups_id
	default:
		return models.UPS{}, nil, fmt.Errorf("load previous status: %w", err)
	}

	stored, err := r.upsertRow(ctx, tx, snap)
	if err != nil {
		return models.UPS{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return models.UPS{}, nil, fmt.Errorf("commit upsert: %w", err)
	}
	return stored, prev, nil
}

func (r *PostgresUPSRepo) upsertRow(ctx context.Context, tx *sql.Tx, snap models.UPS) (models.UPS, error) {
	insertCols := append([]string{"ups_id", "data_source"}, snapshotColumns...)
	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	updates := make([]string, 0, len(snapshotColumns)+2)
	for _, col := range snapshotColumns {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	updates = append(updates, "consecutive_failures = 0", "updated_at = NOW()")

	q := `
		INSERT INTO ups (` + strings.Join(insertCols, ", ") + `)
		VALUES (` + strings.Join(placeholders, ", ") + `)
		ON CONFLICT (ups_id) DO UPDATE SET ` + strings.Join(updates, ", ") + `
		RETURNING ` + strings.Join(upsColumns, ", ")

	args := append([]any{snap.UPSID, string(snap.DataSource)}, snapshotArgs(&snap)...)
	row := tx.QueryRowContext(ctx, q, args...)
	stored, err := scanUPS(row)
	if err != nil {
		return models.UPS{}, fmt.Errorf("upsert ups %s: %w", snap.UPSID, err)
	}
	return stored, nil
}

func (r *PostgresUPSRepo) RegisterFailure(ctx context.Context, upsID string) (*models.UPS, *models.UPSStatus, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, false, fmt.Errorf("begin register failure: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+strings.Join(upsColumns, ", ")+` FROM ups WHERE ups_id = $1 FOR UPDATE`, upsID)
	current, err := scanUPS(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Never successfully polled; there is nothing to demote.
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("load ups %s: %w", upsID, err)
	}

	prevStatus := current.Status
	current.ConsecutiveFailures++
	changed := false

	if current.ConsecutiveFailures >= 3 && current.Status != models.StatusOffline {
		changed = true
		current.Status = models.StatusOffline
		clearMetrics(&current)

		sets := make([]string, 0, len(metricColumns)+3)
		for _, col := range metricColumns {
			sets = append(sets, col+" = NULL")
		}
		sets = append(sets, "status = $2", "consecutive_failures = $3", "updated_at = NOW()")
		_, err = tx.ExecContext(ctx,
			`UPDATE ups SET `+strings.Join(sets, ", ")+` WHERE ups_id = $1`,
			upsID, string(models.StatusOffline), current.ConsecutiveFailures)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE ups SET consecutive_failures = $2, updated_at = NOW() WHERE ups_id = $1`,
			upsID, current.ConsecutiveFailures)
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("register failure for %s: %w", upsID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, false, fmt.Errorf("commit register failure: %w", err)
	}
	return &current, &prevStatus, changed, nil
}

func (r *PostgresUPSRepo) ListUPS(ctx context.Context) ([]models.UPS, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+strings.Join(upsColumns, ", ")+` FROM ups ORDER BY ups_id`)
	if err != nil {
		return nil, fmt.Errorf("list ups: %w", err)
	}
	defer rows.Close()

	out := []models.UPS{}
	for rows.Next() {
		u, err := scanUPS(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ups row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PostgresUPSRepo) GetUPS(ctx context.Context, upsID string) (*models.UPS, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(upsColumns, ", ")+` FROM ups WHERE ups_id = $1`, upsID)
	u, err := scanUPS(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ups %s: %w", upsID, err)
	}
	return &u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanUPS reads one row in upsColumns order. Nullable columns scan
// into the snapshot's pointer fields directly.
func scanUPS(s scanner) (models.UPS, error) {
	var u models.UPS
	err := s.Scan(
		&u.UPSID, &u.DataSource, &u.Status, &u.UPSStatusRaw,
		&u.BatteryPercent, &u.RuntimeMinutes, &u.BatteryRuntimeSeconds, &u.LoadPercent,
		&u.InputVoltage, &u.OutputVoltage,
		&u.BatteryChargeWarning, &u.BatteryChargeLow, &u.BatteryRuntimeLow,
		&u.BatteryVoltage, &u.BatteryVoltageNominal, &u.BatteryType, &u.BatteryDate, &u.BatteryMfrDate,
		&u.DeviceMfr, &u.DeviceModel, &u.DeviceSerial, &u.DeviceType,
		&u.DriverName, &u.DriverVersion, &u.DriverVersionInternal, &u.DriverVersionData,
		&u.DriverPollFreq, &u.DriverPollInterval,
		&u.InputVoltageNominal, &u.InputTransferLow, &u.InputTransferHigh,
		&u.OutputFrequency, &u.OutputVoltageNominal,
		&u.UPSBeeperStatus, &u.UPSDelayShutdown, &u.UPSDelayStart,
		&u.UPSTimerShutdown, &u.UPSTimerStart, &u.UPSTimerReboot,
		&u.UPSFirmware, &u.UPSMfr, &u.UPSModel, &u.UPSSerial, &u.UPSVendorID, &u.UPSProductID,
		&u.UPSRealPowerNominal, &u.UPSTestResult,
		&u.ConsecutiveFailures, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// snapshotArgs returns the values for snapshotColumns in order.
func snapshotArgs(u *models.UPS) []any {
	return []any{
		string(u.Status), u.UPSStatusRaw,
		u.BatteryPercent, u.RuntimeMinutes, u.BatteryRuntimeSeconds, u.LoadPercent,
		u.InputVoltage, u.OutputVoltage,
		u.BatteryChargeWarning, u.BatteryChargeLow, u.BatteryRuntimeLow,
		u.BatteryVoltage, u.BatteryVoltageNominal, u.BatteryType, u.BatteryDate, u.BatteryMfrDate,
		u.DeviceMfr, u.DeviceModel, u.DeviceSerial, u.DeviceType,
		u.DriverName, u.DriverVersion, u.DriverVersionInternal, u.DriverVersionData,
		u.DriverPollFreq, u.DriverPollInterval,
		u.InputVoltageNominal, u.InputTransferLow, u.InputTransferHigh,
		u.OutputFrequency, u.OutputVoltageNominal,
		u.UPSBeeperStatus, u.UPSDelayShutdown, u.UPSDelayStart,
		u.UPSTimerShutdown, u.UPSTimerStart, u.UPSTimerReboot,
		u.UPSFirmware, u.UPSMfr, u.UPSModel, u.UPSSerial, u.UPSVendorID, u.UPSProductID,
		u.UPSRealPowerNominal, u.UPSTestResult,
	}
}

// clearMetrics nulls every field that metricColumns covers, keeping the
// in-memory copy consistent with the UPDATE above.
func clearMetrics(u *models.UPS) {
	u.UPSStatusRaw = nil
	u.BatteryPercent = nil
	u.RuntimeMinutes = nil
	u.BatteryRuntimeSeconds = nil
	u.LoadPercent = nil
	u.InputVoltage = nil
	u.OutputVoltage = nil
	u.BatteryChargeWarning = nil
	u.BatteryChargeLow = nil
	u.BatteryRuntimeLow = nil
	u.BatteryVoltage = nil
	u.BatteryVoltageNominal = nil
	u.BatteryType = nil
	u.BatteryDate = nil
	u.BatteryMfrDate = nil
	u.DeviceMfr = nil
	u.DeviceModel = nil
	u.DeviceSerial = nil
	u.DeviceType = nil
	u.DriverName = nil
	u.DriverVersion = nil
	u.DriverVersionInternal = nil
	u.DriverVersionData = nil
	u.DriverPollFreq = nil
	u.DriverPollInterval = nil
	u.InputVoltageNominal = nil
	u.InputTransferLow = nil
	u.InputTransferHigh = nil
	u.OutputFrequency = nil
	u.OutputVoltageNominal = nil
	u.UPSBeeperStatus = nil
	u.UPSDelayShutdown = nil
	u.UPSDelayStart = nil
	u.UPSTimerShutdown = nil
	u.UPSTimerStart = nil
	u.UPSTimerReboot = nil
	u.UPSFirmware = nil
	u.UPSMfr = nil
	u.UPSModel = nil
	u.UPSSerial = nil
	u.UPSVendorID = nil
	u.UPSProductID = nil
	u.UPSRealPowerNominal = nil
	u.UPSTestResult = nil
}
