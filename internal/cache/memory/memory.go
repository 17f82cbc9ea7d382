// Package memory implements an in-process price cache used for tests
// and single-node deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jallpatell/token-vitae-beta/internal/cache"
	"github.com/jallpatell/token-vitae-beta/internal/domain"
)

var _ cache.PriceCache = (*Cache)(nil)

type entry struct {
	record    domain.PriceRecord
	expiresAt time.Time
}

// Cache is a thread-safe map-backed price cache with per-entry TTLs.
// Expired entries are dropped lazily on read.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.Fingerprint]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[domain.Fingerprint]entry),
		now:     time.Now,
	}
}

func (c *Cache) Get(_ context.Context, fp domain.Fingerprint) (*domain.PriceRecord, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, fp)
		c.mu.Unlock()
		return nil, false, nil
	}

	record := e.record
	return &record, true, nil
}

func (c *Cache) Set(_ context.Context, record *domain.PriceRecord, ttl time.Duration) error {
	if record == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	fp := domain.NewFingerprint(record.Token, record.Network, record.Date)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = entry{
		record:    *record,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *Cache) Ping(context.Context) error { return nil }

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[domain.Fingerprint]entry)
	return nil
}
