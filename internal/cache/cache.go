package cache

import (
	"context"
	"time"
)

// BytesCache is a TTL key/value store for opaque blobs.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker is a best-effort distributed mutex. token identifies the holder,
// so only the one who took the lock can release it.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}
