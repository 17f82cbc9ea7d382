// Package cache defines the short-lived price cache used to absorb
// repeated lookups for the same token day.
package cache

import (
	"context"
	"time"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
)

// DefaultTTL bounds how long a resolved price stays cached.
const DefaultTTL = 5 * time.Minute

// PriceCache is a best-effort cache keyed by price fingerprint. A miss
// or an error from Get is never fatal: callers fall through to the
// next resolution stage.
type PriceCache interface {
	// Get returns the cached record and true on a hit. A miss returns
	// (nil, false, nil).
	Get(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, bool, error)

	// Set stores the record under its fingerprint for the given TTL.
	Set(ctx context.Context, record *domain.PriceRecord, ttl time.Duration) error

	// Ping reports connectivity for health checks.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
