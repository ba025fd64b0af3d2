// Package store holds the shared state behind the policy layer: atomic
// rate-limit counters and the response cache.
package store

import (
	"context"
	"fmt"
	"time"

	"webproxy/internal/config"
	"webproxy/internal/model"
)

// Counter is an atomic, expiring counter store.
type Counter interface {
	// Incr adds one to key and returns the new value. A missing or expired
	// key starts over at one and lives for ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Cache stores rewritten responses.
type Cache interface {
	Get(ctx context.Context, key string) (*model.CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *model.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store is a backend providing both counters and cache.
type Store interface {
	Counter
	Cache
	// Cleanup drops entries expired at now and reports how many were removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// New opens the backend selected by cfg.Store.Backend.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "memory", "":
		return NewMemory(cfg.Cache.MaxEntries)
	case "sqlite":
		return NewSQLite(cfg.Store.Path)
	}
	return nil, fmt.Errorf("store: unknown backend %q", cfg.Store.Backend)
}
