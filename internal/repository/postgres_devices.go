package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/models"
)

type PostgresDevicesRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresDevicesRepo(db *sql.DB, logger *zap.Logger) *PostgresDevicesRepo {
	return &PostgresDevicesRepo{db: db, logger: logger}
}

// Register upserts a push registration. The logical key is
// (token_hash, ups_id, environment, server_id, installation_id); a
// matching row gets its alias, hidden flag and encrypted token
// refreshed, anything else inserts. Idempotent by construction.
func (r *PostgresDevicesRepo) Register(ctx context.Context, reg DeviceRegistration) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM devices
		WHERE token_hash = $1
		  AND ups_id = $2
		  AND environment = $3
		  AND server_id IS NOT DISTINCT FROM $4
		  AND installation_id IS NOT DISTINCT FROM $5
		FOR UPDATE`,
		reg.TokenHash, reg.UPSID, string(reg.Environment), reg.ServerID, reg.InstallationID,
	).Scan(&id)

	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET ups_alias = $2, device_token = $3, ups_hidden = $4
			WHERE id = $1`,
			id, reg.UPSAlias, reg.EncryptedToken, reg.UPSHidden)
		if err != nil {
			return false, fmt.Errorf("update device registration: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit register: %w", err)
		}
		return false, nil

	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices
				(ups_id, ups_alias, device_token, token_hash, installation_id, server_id, ups_hidden, environment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			reg.UPSID, reg.UPSAlias, reg.EncryptedToken, reg.TokenHash,
			reg.InstallationID, reg.ServerID, reg.UPSHidden, string(reg.Environment))
		if err != nil {
			return false, fmt.Errorf("insert device registration: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit register: %w", err)
		}
		return true, nil

	default:
		return false, fmt.Errorf("lookup device registration: %w", err)
	}
}

// Unregister deletes matching registrations. Zero rows affected is the
// success case for a repeat call.
func (r *PostgresDevicesRepo) Unregister(ctx context.Context, tokenHash, upsID string, environment models.Environment, serverID, installationID *string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM devices
		WHERE token_hash = $1
		  AND ups_id = $2
		  AND environment = $3
		  AND server_id IS NOT DISTINCT FROM $4
		  AND installation_id IS NOT DISTINCT FROM $5`,
		tokenHash, upsID, string(environment), serverID, installationID)
	if err != nil {
		return fmt.Errorf("unregister device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 && r.logger != nil {
		r.logger.Debug("unregister matched no rows", zap.String("ups_id", upsID))
	}
	return nil
}

func (r *PostgresDevicesRepo) CountDevices(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}
