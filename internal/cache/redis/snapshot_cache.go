package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantara/perpbot/internal/domain"
)

const (
	snapshotKey = "perpbot:snapshot"
	snapshotTTL = 30 * time.Second
)

// SnapshotCache implements domain.SnapshotCache as a single JSON value with
// a short TTL: a stale snapshot disappearing beats a stale snapshot being
// served as live.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)

// Set stores the snapshot.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.StateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot: %w", err)
	}
	return nil
}

// Get returns the last stored snapshot, or domain.ErrNotFound when none is
// present or it has expired.
func (sc *SnapshotCache) Get(ctx context.Context) (domain.StateSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StateSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var snap domain.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	return snap, nil
}
