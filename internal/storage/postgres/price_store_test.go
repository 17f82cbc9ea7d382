package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/storage"
)

const testToken = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

func testRecord(date int64, price string, source domain.Source) *domain.PriceRecord {
	return &domain.PriceRecord{
		Token:   testToken,
		Network: domain.NetworkEthereum,
		Date:    date,
		Price:   decimal.RequireFromString(price),
		Source:  source,
	}
}

func TestPriceStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceStore(pool)

	err := store.Upsert(ctx, testRecord(1700000000, "1999.42815", domain.SourceOracle))
	require.NoError(t, err)

	got, err := store.Get(ctx, domain.NewFingerprint(testToken, domain.NetworkEthereum, 1700000000))
	require.NoError(t, err)

	assert.Equal(t, testToken, got.Token)
	assert.Equal(t, domain.NetworkEthereum, got.Network)
	assert.Equal(t, int64(1700000000), got.Date)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("1999.42815")),
		"expected 1999.42815, got %s", got.Price)
	assert.Equal(t, domain.SourceOracle, got.Source)
	assert.NotZero(t, got.CreatedAt)
}

func TestPriceStore_UpsertConflictLastWriterWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceStore(pool)

	require.NoError(t, store.Upsert(ctx, testRecord(1700000000, "1.5", domain.SourcePool)))
	require.NoError(t, store.Upsert(ctx, testRecord(1700000000, "1.7", domain.SourceInterpolated)))

	got, err := store.Get(ctx, domain.NewFingerprint(testToken, domain.NetworkEthereum, 1700000000))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("1.7")))
	assert.Equal(t, domain.SourceInterpolated, got.Source)

	// Still exactly one row for the fingerprint.
	records, err := store.GetByTimeRange(ctx, testToken, domain.NetworkEthereum, 0, 2000000000)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPriceStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(pool)

	_, err := store.Get(context.Background(), domain.NewFingerprint(testToken, domain.NetworkEthereum, 42))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPriceStore_NearestBeforeAfter(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceStore(pool)

	require.NoError(t, store.Upsert(ctx, testRecord(1000, "10", domain.SourcePool)))
	require.NoError(t, store.Upsert(ctx, testRecord(2000, "20", domain.SourcePool)))
	require.NoError(t, store.Upsert(ctx, testRecord(3000, "30", domain.SourcePool)))

	fp := domain.NewFingerprint(testToken, domain.NetworkEthereum, 2000)

	before, err := store.NearestBefore(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), before.Date)
	assert.True(t, before.Price.Equal(decimal.NewFromInt(10)))

	after, err := store.NearestAfter(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), after.Date)
	assert.True(t, after.Price.Equal(decimal.NewFromInt(30)))

	// Bounds are strict: no neighbor outside the recorded range.
	_, err = store.NearestBefore(ctx, domain.NewFingerprint(testToken, domain.NetworkEthereum, 1000))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.NearestAfter(ctx, domain.NewFingerprint(testToken, domain.NetworkEthereum, 3000))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPriceStore_GetByTimeRangeOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceStore(pool)

	for _, date := range []int64{5000, 1000, 3000, 9000} {
		require.NoError(t, store.Upsert(ctx, testRecord(date, "1", domain.SourcePool)))
	}

	records, err := store.GetByTimeRange(ctx, testToken, domain.NetworkEthereum, 1000, 5000)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(1000), records[0].Date)
	assert.Equal(t, int64(3000), records[1].Date)
	assert.Equal(t, int64(5000), records[2].Date)
}

func TestPriceStore_UpsertInvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(pool)

	err := store.Upsert(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
