package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/storage"
)

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu      sync.RWMutex
	records map[domain.Fingerprint]*domain.PriceRecord
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		records: make(map[domain.Fingerprint]*domain.PriceRecord),
	}
}

var _ storage.PriceStore = (*PriceStore)(nil)

// Upsert inserts or overwrites the record keyed by (token, network, date).
func (s *PriceStore) Upsert(_ context.Context, r *domain.PriceRecord) error {
	if r == nil || r.Token == "" || !r.Network.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *r
	recCopy.Token = domain.NormalizeAddress(r.Token)
	if recCopy.CreatedAt == 0 {
		recCopy.CreatedAt = time.Now().Unix()
	}
	s.records[domain.Fingerprint{Token: recCopy.Token, Network: recCopy.Network, Date: recCopy.Date}] = &recCopy
	return nil
}

// Get retrieves the record with the exact fingerprint.
func (s *PriceStore) Get(_ context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[fp]
	if !exists {
		return nil, storage.ErrNotFound
	}
	recCopy := *r
	return &recCopy, nil
}

// NearestBefore retrieves the latest record strictly before fp.Date.
func (s *PriceStore) NearestBefore(_ context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.PriceRecord
	for key, r := range s.records {
		if key.Token != fp.Token || key.Network != fp.Network || key.Date >= fp.Date {
			continue
		}
		if best == nil || key.Date > best.Date {
			best = r
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	recCopy := *best
	return &recCopy, nil
}

// NearestAfter retrieves the earliest record strictly after fp.Date.
func (s *PriceStore) NearestAfter(_ context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.PriceRecord
	for key, r := range s.records {
		if key.Token != fp.Token || key.Network != fp.Network || key.Date <= fp.Date {
			continue
		}
		if best == nil || key.Date < best.Date {
			best = r
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	recCopy := *best
	return &recCopy, nil
}

// GetByTimeRange retrieves records within [from, to], ordered by date ASC.
func (s *PriceStore) GetByTimeRange(_ context.Context, token string, network domain.Network, from, to int64) ([]*domain.PriceRecord, error) {
	token = domain.NormalizeAddress(token)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*domain.PriceRecord
	for key, r := range s.records {
		if key.Token != token || key.Network != network {
			continue
		}
		if key.Date < from || key.Date > to {
			continue
		}
		recCopy := *r
		records = append(records, &recCopy)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Date < records[j].Date
	})
	return records, nil
}
