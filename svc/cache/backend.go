package cache

import (
	"context"
	"time"
)

// Backend is a byte store partitioned into namespaces, one per tier.
// Get returns nil, nil on a miss. Deleting a missing key is not an error.
type Backend interface {
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Set(ctx context.Context, ns, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, ns string, keys ...string) error
}
