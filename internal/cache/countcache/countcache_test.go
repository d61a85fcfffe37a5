package countcache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/wfs-server/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema/schematest"
)

func newCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return New(nil, rc, time.Minute), mr
}

func restaurantQuery(t *testing.T, rating float64) *query.Query {
	t.Helper()
	m, ok := schematest.Registry(t).Get("restaurant")
	if !ok {
		t.Fatal("restaurant model missing")
	}
	return &query.Query{Model: m, Where: query.Lookup{
		Lhs: query.Field{Path: "rating"}, Op: query.OpGreaterThan, Rhs: query.Value{V: rating},
	}}
}

func TestGetSet_RoundTrip(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	q := restaurantQuery(t, 4)

	if _, ok := c.Get(ctx, q); ok {
		t.Fatalf("expected a miss on an empty cache")
	}
	c.Set(ctx, q, 42)
	n, ok := c.Get(ctx, q)
	if !ok || n != 42 {
		t.Fatalf("Get=%d,%v want 42,true", n, ok)
	}
	if _, ok := c.Get(ctx, restaurantQuery(t, 3)); ok {
		t.Fatalf("a different filter must miss")
	}
}

func TestOrderingAndOutputDoNotChangeKey(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	q := restaurantQuery(t, 4)
	c.Set(ctx, q, 7)

	sorted := *q
	sorted.Ordering = []query.Order{{Expr: query.Field{Path: "name"}, Desc: true}}
	sorted.Only = []string{"id"}
	if n, ok := c.Get(ctx, &sorted); !ok || n != 7 {
		t.Fatalf("Get=%d,%v want 7,true", n, ok)
	}
}

func TestBump_RetiresCounts(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	q := restaurantQuery(t, 4)
	c.Set(ctx, q, 5)

	gen, err := c.Bump(ctx, "restaurant")
	if err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if gen != 1 {
		t.Fatalf("generation=%d want 1", gen)
	}
	if _, ok := c.Get(ctx, q); ok {
		t.Fatalf("count must miss after a bump")
	}
	c.Set(ctx, q, 6)
	if n, _ := c.Get(ctx, q); n != 6 {
		t.Fatalf("Get=%d want 6", n)
	}
	if got, _ := mr.Get("wfs:gen:restaurant"); got != "1" {
		t.Fatalf("generation key=%q", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	q := restaurantQuery(t, 4)
	c.Set(ctx, q, 3)
	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, q); ok {
		t.Fatalf("expected the count to expire")
	}
}

func TestRedisDown_IsAMiss(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	q := restaurantQuery(t, 4)
	mr.Close()

	c.Set(ctx, q, 1)
	if _, ok := c.Get(ctx, q); ok {
		t.Fatalf("expected a miss with redis down")
	}
}
