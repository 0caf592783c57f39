// Package store provides access to the shared Redis instance used both as
// the TTL-bounded system of record for build status and as the cross-process
// event transport. The two roles are kept as separate capabilities (KV and
// Bus) so either can be swapped independently; Queue carries the
// manager-to-worker dispatch channel.
package store

import (
	"context"
	"time"
)

// KV is a key-value store with per-key expiry.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Bus is a publish/subscribe transport. Delivery is at-most-once; there is
// no replay for late subscribers.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a stream of raw payloads for the channel. The stream
	// is closed when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Queue is a FIFO work-dispatch channel between the manager and the worker
// pool.
type Queue interface {
	Push(ctx context.Context, queue, value string) error
	// BlockingPop waits up to timeout for a value; timeout 0 blocks until a
	// value arrives or ctx is cancelled. ErrEmpty is returned on timeout.
	BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, error)
	Len(ctx context.Context, queue string) (int64, error)
}
