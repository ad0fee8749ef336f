// Package repository holds the Postgres persistence layer. All access
// to the ups and devices tables goes through these types; nothing else
// in the process issues SQL.
package repository

import (
	"context"
	"errors"

	"github.com/Volteec/VolteecBackend/internal/models"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("repository: not found")

// UPSRepo is the persistence contract used by the poller and the HTTP
// layer. The poller is the only writer.
type UPSRepo interface {
	// Upsert overwrites (or creates) the snapshot row and resets
	// consecutive_failures. The second return is the status the row had
	// before the write, nil when the row was just created.
	Upsert(ctx context.Context, snap models.UPS) (models.UPS, *models.UPSStatus, error)

	// RegisterFailure increments consecutive_failures and, at the third
	// consecutive failure, demotes the UPS to ups_offline and nulls all
	// metric fields. Returns (nil, nil, false, nil) when the UPS was
	// never successfully polled.
	RegisterFailure(ctx context.Context, upsID string) (*models.UPS, *models.UPSStatus, bool, error)

	ListUPS(ctx context.Context) ([]models.UPS, error)
	GetUPS(ctx context.Context, upsID string) (*models.UPS, error)
}

// DeviceRegistration carries the register-device parameters after
// token encryption and hashing.
type DeviceRegistration struct {
	UPSID          string
	UPSAlias       *string
	EncryptedToken string
	TokenHash      string
	InstallationID *string
	ServerID       *string
	UPSHidden      bool
	Environment    models.Environment
}

// DevicesRepo is the push-registration store.
type DevicesRepo interface {
	// Register upserts a registration; returns true when a new row was
	// created, false when an existing one was updated.
	Register(ctx context.Context, reg DeviceRegistration) (bool, error)

	// Unregister deletes matching rows; deleting nothing is not an error.
	Unregister(ctx context.Context, tokenHash, upsID string, environment models.Environment, serverID, installationID *string) error

	// CountDevices returns the number of registrations on this server.
	CountDevices(ctx context.Context) (int, error)
}
