package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Backend != "memory" {
		t.Fatalf("backend: got %q", cfg.Backend)
	}
	if cfg.DefaultCount != 1000 || cfg.MaxCount != 5000 {
		t.Fatalf("counts: got %d/%d", cfg.DefaultCount, cfg.MaxCount)
	}
	if cfg.CountCache.Enabled {
		t.Fatal("count cache should be off by default")
	}
	if !cfg.ForceXYOldCRS || cfg.ForceXYEPSG4326 {
		t.Fatalf("axis toggles: got %v/%v", cfg.ForceXYEPSG4326, cfg.ForceXYOldCRS)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BACKEND", "PostGIS")
	t.Setenv("WFS_MAX_COUNT", "50")
	t.Setenv("WFS_DEFAULT_COUNT", "100")
	t.Setenv("COUNT_CACHE_ENABLED", "yes")
	t.Setenv("COUNT_CACHE_TTL", "90s")
	t.Setenv("WFS_FORCE_XY_EPSG_4326", "true")
	t.Setenv("WFS_PREFETCH_CHUNK", "not-a-number")

	cfg := FromEnv()
	if cfg.Backend != "postgis" {
		t.Fatalf("backend: got %q", cfg.Backend)
	}
	if cfg.DefaultCount != 50 {
		t.Fatalf("default count should be capped by max count, got %d", cfg.DefaultCount)
	}
	if !cfg.CountCache.Enabled || cfg.CountCache.TTL != 90*time.Second {
		t.Fatalf("count cache: %+v", cfg.CountCache)
	}
	if !cfg.ForceXYEPSG4326 {
		t.Fatal("force xy not applied")
	}
	if cfg.PrefetchChunk != 1000 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.PrefetchChunk)
	}
}
