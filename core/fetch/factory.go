// Package fetch provides the data-fetch collaborators the publisher calls
// to resolve a dataset: a REST client, a Redis reader and an in-memory
// static source.
package fetch

import (
	"fmt"
	"io"

	"dashcore/core/config"
	dcerrors "dashcore/core/errors"
	"dashcore/core/publisher"
)

// New builds the fetcher selected by cfg.Kind.
func New(cfg config.FetcherConfig) (publisher.Fetcher, error) {
	switch cfg.Kind {
	case config.FetcherHTTP, "":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http fetcher: %w: base_url is empty", dcerrors.ErrInvalidInput)
		}
		return NewHTTP(cfg.BaseURL, cfg.Timeout), nil
	case config.FetcherRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis fetcher: %w: redis_addr is empty", dcerrors.ErrInvalidInput)
		}
		return NewRedisFromAddr(cfg.RedisAddr, cfg.RedisPrefix), nil
	case config.FetcherStatic:
		return NewStatic(), nil
	default:
		return nil, fmt.Errorf("%w: unknown fetcher kind %q", dcerrors.ErrInvalidInput, cfg.Kind)
	}
}

// Close releases resources held by f, if it holds any.
func Close(f publisher.Fetcher) error {
	if c, ok := f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
