package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	dcerrors "dashcore/core/errors"
	"dashcore/core/publisher"
	"dashcore/core/registry"

	"github.com/redis/go-redis/v9"
)

// stringGetter is the slice of the redis client API Redis needs.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis reads datasets that a collector has written to Redis as JSON
// documents under {prefix}{datasetName}. When param carries an "id", the
// key becomes {prefix}{datasetName}:{id}.
type Redis struct {
	client stringGetter
	prefix string

	closeOnce sync.Once
	closer    io.Closer
}

// NewRedis returns a Redis fetcher using client.
func NewRedis(client stringGetter, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// NewRedisFromAddr dials addr and returns a Redis fetcher that owns the
// client; Close releases it.
func NewRedisFromAddr(addr, prefix string) *Redis {
	client := redis.NewClient(&redis.Options{Addr: addr})
	r := NewRedis(client, prefix)
	r.closer = client
	return r
}

// Close releases the client created by NewRedisFromAddr. A client passed to
// NewRedis stays with the caller. Close is idempotent.
func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.closer != nil {
			err = r.closer.Close()
		}
	})
	return err
}

func (r *Redis) key(datasetName string, param registry.Params) string {
	key := r.prefix + datasetName
	if id, ok := param["id"]; ok && id != nil {
		key += ":" + fmt.Sprint(id)
	}
	return key
}

func (r *Redis) Fetch(ctx context.Context, page publisher.Page, datasetName string, param registry.Params) (publisher.Payload, error) {
	key := r.key(datasetName, param)
	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis key %q: %w", key, dcerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}

	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode redis key %q: %w", key, err)
	}
	return out, nil
}
