// Package cache stores pose predictions keyed by image digest.
//
// Three backends share the Store interface: an in-process LRU, Redis, and a
// no-op store for when caching is disabled.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is a byte-value cache. A miss is reported as ok == false with a nil
// error; errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Config selects and sizes a backend.
type Config struct {
	Backend    string
	TTL        time.Duration
	MaxEntries int
	Redis      RedisConfig
}

// RedisConfig addresses the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// New builds the backend named by cfg.Backend.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory, "":
		return NewMemory(cfg.MaxEntries, cfg.TTL), nil
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis cache requires an address")
		}
		return NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, WithTTL(cfg.TTL)), nil
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error          { return nil }
func (Nop) Close() error                                        { return nil }
