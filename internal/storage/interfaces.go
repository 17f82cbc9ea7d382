package storage

import (
	"context"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
)

// PriceStore provides access to price_records storage. Records are unique
// by (token, network, date); Upsert is an idempotent last-writer-wins
// write on that key, which is what makes concurrent identical resolutions
// safe without in-core locking.
type PriceStore interface {
	// Upsert inserts the record or overwrites the existing record with
	// the same (token, network, date) key.
	Upsert(ctx context.Context, r *domain.PriceRecord) error

	// Get retrieves the record with the exact fingerprint. Returns
	// ErrNotFound if not exists.
	Get(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error)

	// NearestBefore retrieves the record with the greatest date strictly
	// before fp.Date for the same token and network. Returns ErrNotFound
	// if none exists.
	NearestBefore(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error)

	// NearestAfter retrieves the record with the smallest date strictly
	// after fp.Date for the same token and network. Returns ErrNotFound
	// if none exists.
	NearestAfter(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error)

	// GetByTimeRange retrieves records for a token within [from, to]
	// (inclusive), ordered by date ASC.
	GetByTimeRange(ctx context.Context, token string, network domain.Network, from, to int64) ([]*domain.PriceRecord, error)
}
