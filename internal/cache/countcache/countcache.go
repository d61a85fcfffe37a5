// Package countcache keeps numberMatched results in Redis. Keys carry the
// model's data generation, so bumping the generation retires every cached
// count of that model at once.
package countcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/wfs-server/internal/cache/keys"
	obs "github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// Backend is the subset of redisstore.Client the cache needs.
type Backend interface {
	GetInt(ctx context.Context, key string) (int64, bool, error)
	SetInt(ctx context.Context, key string, n int64, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

func New(logger *slog.Logger, backend Backend, ttl time.Duration) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, ttl: ttl, logger: logger}
}

// key reads the model's generation; a model never bumped is generation 0.
func (c *Cache) key(ctx context.Context, q *query.Query) (string, error) {
	gen, _, err := c.backend.GetInt(ctx, keys.Generation(q.Model.Name))
	if err != nil {
		return "", err
	}
	plan := fmt.Sprintf("%s|%016x", q.ForCount(), q.Fingerprint())
	return keys.Count(q.Model.Name, gen, plan), nil
}

// Get never fails the request; Redis errors count as misses.
func (c *Cache) Get(ctx context.Context, q *query.Query) (int, bool) {
	k, err := c.key(ctx, q)
	if err != nil {
		c.fail("get", err)
		return 0, false
	}
	n, ok, err := c.backend.GetInt(ctx, k)
	switch {
	case err != nil:
		c.fail("get", err)
		return 0, false
	case !ok:
		obs.IncCountCache("miss")
		return 0, false
	}
	obs.IncCountCache("hit")
	return int(n), true
}

func (c *Cache) Set(ctx context.Context, q *query.Query, n int) {
	k, err := c.key(ctx, q)
	if err == nil {
		err = c.backend.SetInt(ctx, k, int64(n), c.ttl)
	}
	if err != nil {
		c.fail("set", err)
	}
}

// Bump starts a new generation for model.
func (c *Cache) Bump(ctx context.Context, model string) (int64, error) {
	gen, err := c.backend.Incr(ctx, keys.Generation(model))
	if err != nil {
		return 0, fmt.Errorf("bump %s: %w", model, err)
	}
	c.logger.Debug("count cache generation bumped", "model", model, "generation", gen)
	return gen, nil
}

func (c *Cache) fail(op string, err error) {
	obs.IncCountCache("error")
	c.logger.Warn("count cache unavailable", "op", op, "err", err)
}
