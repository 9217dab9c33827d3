// Package cache stores merged reports for a short time so repeated lookups
// of the same entity skip the backend fan-out.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/apigw/internal/constants"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is a byte store with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RedisConfig selects the Redis server.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Config selects and tunes the report cache.
type Config struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Prefix  string        `mapstructure:"prefix" yaml:"prefix"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// New builds the configured backend. It returns (nil, nil) when caching is
// disabled.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendRedis:
		r, err := NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// Reports caches merged report documents per entity.
type Reports struct {
	cache  Cache
	ttl    time.Duration
	prefix string
}

// NewReports wraps c. A nil c yields a Reports that never hits.
func NewReports(c Cache, ttl time.Duration, prefix string) *Reports {
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	if prefix == "" {
		prefix = constants.DefaultCachePrefix
	}
	return &Reports{cache: c, ttl: ttl, prefix: prefix}
}

// Enabled reports whether a backend is attached.
func (r *Reports) Enabled() bool { return r != nil && r.cache != nil }

// TTL returns the entry lifetime.
func (r *Reports) TTL() time.Duration { return r.ttl }

func (r *Reports) key(entityID string) string { return r.prefix + entityID }

// Get returns the cached document for entityID.
func (r *Reports) Get(ctx context.Context, entityID string) ([]byte, bool, error) {
	if !r.Enabled() {
		return nil, false, nil
	}
	return r.cache.Get(ctx, r.key(entityID))
}

// Put stores body for entityID.
func (r *Reports) Put(ctx context.Context, entityID string, body []byte) error {
	if !r.Enabled() {
		return nil
	}
	return r.cache.Set(ctx, r.key(entityID), body, r.ttl)
}

// Invalidate drops the entry for entityID.
func (r *Reports) Invalidate(ctx context.Context, entityID string) error {
	if !r.Enabled() {
		return nil
	}
	return r.cache.Delete(ctx, r.key(entityID))
}

// Close releases the backend.
func (r *Reports) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.cache.Close()
}
