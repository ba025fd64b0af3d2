package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"webproxy/internal/model"
)

// Memory keeps counters in a map and cached responses in ristretto. It
// serves a single process only.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counter
	cache    *ristretto.Cache
	now      func() time.Time
}

type counter struct {
	value   int64
	expires time.Time
}

// NewMemory creates a Memory store holding up to maxEntries cached responses.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		Cost: func(value interface{}) int64 {
			return 1
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: init memory cache: %w", err)
	}
	return &Memory{
		counters: make(map[string]*counter),
		cache:    cache,
		now:      time.Now,
	}, nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(ttl)}
		m.counters[key] = c
	}
	c.value++
	return c.value, nil
}

func (m *Memory) Get(_ context.Context, key string) (*model.CacheEntry, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry, ok := v.(*model.CacheEntry)
	return entry, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, entry *model.CacheEntry, ttl time.Duration) error {
	m.cache.SetWithTTL(key, entry, 1, ttl)
	m.cache.Wait()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Del(key)
	return nil
}

// Cleanup drops expired counters. Cached responses expire inside ristretto.
func (m *Memory) Cleanup(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, c := range m.counters {
		if !now.Before(c.expires) {
			delete(m.counters, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
