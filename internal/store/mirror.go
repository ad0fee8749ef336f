// Package store mirrors the latest UPS snapshots into Redis so other
// local consumers (dashboards, scripts) can read them without hitting
// Postgres. The mirror is optional and strictly write-through: Postgres
// stays the source of truth.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Volteec/VolteecBackend/internal/models"
)

const (
	keyPrefix = "volteec:ups:"
	// Mirrored snapshots expire on their own so a stopped server does
	// not leave stale readings behind.
	snapshotTTL = 5 * time.Minute
)

// SnapshotMirror receives every persisted snapshot. Nil disables
// mirroring.
type SnapshotMirror interface {
	StoreSnapshot(ctx context.Context, u models.UPS) error
}

// RedisMirror implements SnapshotMirror on a Redis connection.
type RedisMirror struct {
	c *redis.Client
}

func NewRedisMirror(c *redis.Client) *RedisMirror {
	return &RedisMirror{c: c}
}

func (m *RedisMirror) StoreSnapshot(ctx context.Context, u models.UPS) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.c.Set(ctx, keyPrefix+u.UPSID, payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("mirror snapshot %s: %w", u.UPSID, err)
	}
	return nil
}
