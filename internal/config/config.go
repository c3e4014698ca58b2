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

type Config struct {
	Name            string
	Addr            string
	LogLevel        string
	DatabaseURL     string
	TilerURL        string
	RedisAddr       string
	CacheEnabled    bool
	CacheOpTimeout  time.Duration
	ItemTTLDefault  time.Duration
	ItemTTLOvr      map[string]time.Duration
	ItemLRUSize     int
	CORSOrigins     []string
	CacheControl    string
	DBMaxConns      int
	Invalidation    InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Name:           getenv("SERVICE_NAME", "eoapi-raster"),
		Addr:           getenv("ADDR", ":8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		DatabaseURL:    getenv("DATABASE_URL", "postgres://localhost:5432/postgis"),
		TilerURL:       getenv("TILER_URL", "http://localhost:8000"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheEnabled:   getbool("CACHE_ENABLED", true),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		ItemTTLDefault: getduration("ITEM_TTL_DEFAULT", 5*time.Minute),
		ItemTTLOvr:     parseDurationMap(getenv("ITEM_TTL_OVERRIDES", "")),
		ItemLRUSize:    getint("ITEM_LRU_SIZE", 1024),
		CORSOrigins:    splitCSV(getenv("CORS_ORIGINS", "")),
		CacheControl:   getenv("CACHE_CONTROL", "public, max-age=3600"),
		DBMaxConns:     getint("DB_MAX_CONNS", 10),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "stac-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "item-cache-invalidator"),
		},
	}
}

// ItemTTL returns the cache TTL for a collection, honoring overrides.
func (c Config) ItemTTL(collection string) time.Duration {
	if d, ok := c.ItemTTLOvr[collection]; ok {
		return d
	}
	return c.ItemTTLDefault
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

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "collection=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
