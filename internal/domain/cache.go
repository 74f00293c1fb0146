package domain

import (
	"context"
	"time"
)

// SnapshotCache stores the latest live state snapshot for the presentation
// layer.
type SnapshotCache interface {
	Set(ctx context.Context, snap StateSnapshot) error
	Get(ctx context.Context) (StateSnapshot, error)
}

// LockManager provides the single-instance process lock that prevents two
// engine instances from mutating the same persisted state concurrently.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
