// Package redis implements the price cache on top of a Redis server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/jallpatell/token-vitae-beta/internal/cache"
	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/observability"
)

var _ cache.PriceCache = (*Cache)(nil)

// Cache stores resolved prices in Redis as JSON values with a TTL.
type Cache struct {
	client *redis.Client
	logger *log.Logger
}

// New connects to the Redis server at addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Cache{
		client: client,
		logger: log.New(os.Stdout, "[CACHE] ", log.LstdFlags),
	}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		logger: log.New(os.Stdout, "[CACHE] ", log.LstdFlags),
	}
}

// cachedRecord is the wire form of a price record. The fingerprint is
// carried in the key, so only the payload fields are stored.
type cachedRecord struct {
	Price     string `json:"price"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"`
}

func (c *Cache) Get(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, bool, error) {
	raw, err := c.client.Get(ctx, fp.CacheKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordCacheMiss()
		return nil, false, nil
	}
	if err != nil {
		observability.RecordCacheError()
		return nil, false, fmt.Errorf("failed to read cache key %s: %w", fp.CacheKey(), err)
	}

	var stored cachedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		// A corrupt entry is treated as a miss so the resolver can
		// overwrite it with a fresh value.
		c.logger.Printf("Dropping corrupt cache entry %s: %v", fp.CacheKey(), err)
		observability.RecordCacheError()
		return nil, false, nil
	}

	price, err := decimal.NewFromString(stored.Price)
	if err != nil {
		c.logger.Printf("Dropping corrupt cache entry %s: %v", fp.CacheKey(), err)
		observability.RecordCacheError()
		return nil, false, nil
	}

	observability.RecordCacheHit()
	return &domain.PriceRecord{
		Token:     fp.Token,
		Network:   fp.Network,
		Date:      fp.Date,
		Price:     price,
		Source:    domain.Source(stored.Source),
		CreatedAt: stored.CreatedAt,
	}, true, nil
}

func (c *Cache) Set(ctx context.Context, record *domain.PriceRecord, ttl time.Duration) error {
	if record == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	fp := domain.NewFingerprint(record.Token, record.Network, record.Date)
	payload, err := json.Marshal(cachedRecord{
		Price:     record.Price.String(),
		Source:    string(record.Source),
		CreatedAt: record.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, fp.CacheKey(), payload, ttl).Err(); err != nil {
		observability.RecordCacheError()
		return fmt.Errorf("failed to write cache key %s: %w", fp.CacheKey(), err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
