package storage

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/redis/go-redis/v9"
)

// Redis is a durable [Store] backed by a Redis server.  It is intended for
// fleet deployments where verdict caches are shared between instances.
type Redis struct {
	client *redis.Client

	// keyPrefix namespaces guard blobs within the database.
	keyPrefix string
}

// NewRedis returns a store using the Redis server at addr.
func NewRedis(addr string) (s *Redis) {
	return &Redis{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: "webguard:",
	}
}

// type check
var _ Store = (*Redis)(nil)

// Load implements the [Store] interface for *Redis.
func (s *Redis) Load(ctx context.Context, key string) (data []byte, err error) {
	data, err = s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("loading %q: %w", key, err)
	}

	return data, nil
}

// Store implements the [Store] interface for *Redis.
func (s *Redis) Store(ctx context.Context, key string, data []byte) (err error) {
	err = s.client.Set(ctx, s.keyPrefix+key, data, 0).Err()
	if err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}

	return nil
}

// Close releases the client's resources.
func (s *Redis) Close() (err error) {
	return s.client.Close()
}
