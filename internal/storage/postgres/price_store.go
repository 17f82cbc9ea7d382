package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/observability"
	"github.com/jallpatell/token-vitae-beta/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// Upsert inserts or overwrites the record keyed by (token, network, date).
// Last writer wins on conflict.
func (s *PriceStore) Upsert(ctx context.Context, r *domain.PriceRecord) error {
	if r == nil || r.Token == "" || !r.Network.Valid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_records (token, network, date, price, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token, network, date)
		DO UPDATE SET price = EXCLUDED.price, source = EXCLUDED.source
	`

	createdAt := r.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		domain.NormalizeAddress(r.Token),
		string(r.Network),
		r.Date,
		r.Price.String(),
		string(r.Source),
		createdAt,
	)
	observability.RecordDBQuery("upsert", time.Since(start).Seconds(), err)
	if err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		return fmt.Errorf("upsert price record: %w", err)
	}
	return nil
}

// Get retrieves the record with the exact fingerprint.
func (s *PriceStore) Get(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error) {
	query := `
		SELECT token, network, date, price::text, source, created_at
		FROM price_records
		WHERE token = $1 AND network = $2 AND date = $3
	`
	return s.queryOne(ctx, "get", query, fp.Token, string(fp.Network), fp.Date)
}

// NearestBefore retrieves the latest record strictly before fp.Date.
func (s *PriceStore) NearestBefore(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error) {
	query := `
		SELECT token, network, date, price::text, source, created_at
		FROM price_records
		WHERE token = $1 AND network = $2 AND date < $3
		ORDER BY date DESC
		LIMIT 1
	`
	return s.queryOne(ctx, "nearest_before", query, fp.Token, string(fp.Network), fp.Date)
}

// NearestAfter retrieves the earliest record strictly after fp.Date.
func (s *PriceStore) NearestAfter(ctx context.Context, fp domain.Fingerprint) (*domain.PriceRecord, error) {
	query := `
		SELECT token, network, date, price::text, source, created_at
		FROM price_records
		WHERE token = $1 AND network = $2 AND date > $3
		ORDER BY date ASC
		LIMIT 1
	`
	return s.queryOne(ctx, "nearest_after", query, fp.Token, string(fp.Network), fp.Date)
}

// GetByTimeRange retrieves records within [from, to], ordered by date ASC.
func (s *PriceStore) GetByTimeRange(ctx context.Context, token string, network domain.Network, from, to int64) ([]*domain.PriceRecord, error) {
	query := `
		SELECT token, network, date, price::text, source, created_at
		FROM price_records
		WHERE token = $1 AND network = $2 AND date >= $3 AND date <= $4
		ORDER BY date ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, domain.NormalizeAddress(token), string(network), from, to)
	observability.RecordDBQuery("get_by_time_range", time.Since(start).Seconds(), err)
	if err != nil {
		if isConnectionError(err) {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("get price records by time range: %w", err)
	}
	defer rows.Close()

	var records []*domain.PriceRecord
	for rows.Next() {
		r, err := scanPriceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price records: %w", err)
	}
	return records, nil
}

func (s *PriceStore) queryOne(ctx context.Context, operation, query string, args ...interface{}) (*domain.PriceRecord, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, query, args...)
	r, err := scanPriceRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			// An empty result is a normal outcome, not a query error.
			observability.RecordDBQuery(operation, time.Since(start).Seconds(), nil)
			return nil, storage.ErrNotFound
		}
		observability.RecordDBQuery(operation, time.Since(start).Seconds(), err)
		if isConnectionError(err) {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("get price record: %w", err)
	}
	observability.RecordDBQuery(operation, time.Since(start).Seconds(), nil)
	return r, nil
}

// scanPriceRecord scans a single row into PriceRecord. The NUMERIC price
// column is scanned as text and parsed, keeping decimal precision intact.
func scanPriceRecord(row pgx.Row) (*domain.PriceRecord, error) {
	var r domain.PriceRecord
	var network, price, source string

	err := row.Scan(&r.Token, &network, &r.Date, &price, &source, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Network = domain.Network(network)
	r.Source = domain.Source(source)
	r.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	return &r, nil
}
