package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Ping round-trips a throwaway key through the edge namespace so a
// read-only replica or a full instance reports unhealthy.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := edgeKey("probe", uuid.NewString())
	if err := r.client.Set(ctx, key, "1", 5*time.Second).Err(); err != nil {
		return errors.Wrap(err, "redis probe write")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis probe delete")
	}
	return nil
}
