// Package config reads the server settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type CountCacheCfg struct {
	Enabled bool
	TTL     time.Duration
}

type Config struct {
	Addr        string
	LogLevel    string
	LogConsole  bool
	CatalogFile string

	// Backend is memory, postgis or duckdb.
	Backend     string
	DatabaseURL string
	DuckDBPath  string

	RedisAddr    string
	CountCache   CountCacheCfg
	Invalidation InvalidationCfg

	DefaultCount    int
	MaxCount        int
	ForceXYEPSG4326 bool
	ForceXYOldCRS   bool
	PrefetchChunk   int
	MaxBodyBytes    int64

	MetricsEnabled bool
	MetricsAddr    string
	GzipEnabled    bool
}

func FromEnv() Config {
	maxCount := getint("WFS_MAX_COUNT", 5000)
	defCount := getint("WFS_DEFAULT_COUNT", 1000)
	if maxCount < 0 {
		maxCount = 0
	}
	if maxCount > 0 && defCount > maxCount {
		defCount = maxCount
	}

	return Config{
		Addr:        getenv("ADDR", ":8090"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		CatalogFile: getenv("CATALOG_FILE", "catalog.yaml"),

		Backend:     strings.ToLower(getenv("BACKEND", "memory")),
		DatabaseURL: getenv("DATABASE_URL", "postgres://localhost:5432/gis"),
		DuckDBPath:  getenv("DUCKDB_PATH", ""),

		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		CountCache: CountCacheCfg{
			Enabled: getbool("COUNT_CACHE_ENABLED", false),
			TTL:     getduration("COUNT_CACHE_TTL", 5*time.Minute),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "wfs-data-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "wfs-count-invalidator"),
		},

		DefaultCount:    defCount,
		MaxCount:        maxCount,
		ForceXYEPSG4326: getbool("WFS_FORCE_XY_EPSG_4326", false),
		ForceXYOldCRS:   getbool("WFS_FORCE_XY_OLD_CRS", true),
		PrefetchChunk:   getint("WFS_PREFETCH_CHUNK", 1000),
		MaxBodyBytes:    int64(getint("WFS_MAX_BODY_BYTES", 10<<20)),

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
		GzipEnabled:    getbool("GZIP_ENABLED", true),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
