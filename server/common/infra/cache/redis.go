// Package cache constructs the redis client backing the presence mirror.
package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
}

func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	})
}

// Ping verifies connectivity; used by health checks, not at startup. The
// mirror is optional and the services come up without it.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
