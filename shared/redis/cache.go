package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ViewCache stores JSON read models of type T under "<prefix><id>".
// Cache failures never fail a read: they are logged and treated as misses.
// A zero TTL keeps entries until they are deleted.
type ViewCache[T any] struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewViewCache[T any](client *goredis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *ViewCache[T] {
	return &ViewCache[T]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("cache", prefix)),
	}
}

func (c *ViewCache[T]) Key(id string) string {
	return c.prefix + id
}

func (c *ViewCache[T]) Get(ctx context.Context, id string) (*T, bool) {
	raw, err := c.client.Get(ctx, c.Key(id)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false
	case err != nil:
		c.logger.Warn("cache read failed", zap.String("id", id), zap.Error(err))
		return nil, false
	}

	view := new(T)
	if err := json.Unmarshal(raw, view); err != nil {
		c.logger.Warn("dropping undecodable cache entry", zap.String("id", id), zap.Error(err))
		c.Delete(ctx, id)
		return nil, false
	}
	return view, true
}

func (c *ViewCache[T]) Set(ctx context.Context, id string, view *T) {
	raw, err := json.Marshal(view)
	if err != nil {
		c.logger.Error("cache encode failed", zap.String("id", id), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.Key(id), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *ViewCache[T]) Delete(ctx context.Context, id string) {
	if err := c.client.Del(ctx, c.Key(id)).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.String("id", id), zap.Error(err))
	}
}

// Load returns the cached view for id or, on a miss, the result of load,
// which is then cached. Errors from load are returned unchanged and nothing
// is cached.
func (c *ViewCache[T]) Load(ctx context.Context, id string, load func(context.Context) (*T, error)) (*T, error) {
	if view, ok := c.Get(ctx, id); ok {
		return view, nil
	}
	view, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, id, view)
	return view, nil
}
