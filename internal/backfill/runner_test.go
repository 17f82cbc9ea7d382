package backfill

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachememory "github.com/jallpatell/token-vitae-beta/internal/cache/memory"
	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum/stub"
	"github.com/jallpatell/token-vitae-beta/internal/network"
	"github.com/jallpatell/token-vitae-beta/internal/resolver"
	storagememory "github.com/jallpatell/token-vitae-beta/internal/storage/memory"
)

const runnerToken = "0x1111111111111111111111111111111111111111"

func newRunnerFixture(t *testing.T, client *stub.Client, now time.Time) (*Runner, *storagememory.PriceStore) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	cfg := &network.Config{
		Network:              domain.NetworkEthereum,
		ChainID:              1,
		Factory:              "0x3333333333333333333333333333333333333333",
		QuoteToken:           "0x4444444444444444444444444444444444444444",
		IntermediateToken:    "0x5555555555555555555555555555555555555555",
		FeeTiers:             []uint32{500, 3000, 10000},
		DefaultTokenDecimals: 18,
	}

	store := storagememory.NewPriceStore()
	res := resolver.New(store, cachememory.New(), map[domain.Network]*resolver.Backend{
		domain.NetworkEthereum: resolver.NewBackend(client, cfg, logger),
	}, resolver.WithLogger(logger))

	runner, err := NewRunner(res,
		WithTimezone(time.UTC),
		WithClock(func() time.Time { return now }),
		WithBatchSize(2),
		WithBatchDelay(time.Millisecond),
		WithLogger(logger),
	)
	require.NoError(t, err)
	return runner, store
}

func TestRunner_FillsEveryDay(t *testing.T) {
	base := time.Date(2023, 6, 10, 12, 0, 0, 0, time.UTC).Unix()
	now := time.Date(2023, 6, 13, 9, 0, 0, 0, time.UTC)

	client := stub.NewClient()
	client.AddChain(base-300, base-200, base-100, base, base+100)
	client.SetCodeFrom(runnerToken, 3)

	runner, store := newRunnerFixture(t, client, now)

	days := DailyTimestamps(base, time.UTC, now)
	require.Len(t, days, 3)

	ctx := context.Background()
	for _, day := range days {
		require.NoError(t, store.Upsert(ctx, &domain.PriceRecord{
			Token:   runnerToken,
			Network: domain.NetworkEthereum,
			Date:    day,
			Price:   decimal.NewFromInt(5),
			Source:  domain.SourcePool,
		}))
	}

	result, err := runner.Run(ctx, runnerToken, domain.NetworkEthereum)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Filled)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, base, result.Creation)
}

func TestRunner_SkipsUnresolvableDays(t *testing.T) {
	base := time.Date(2023, 6, 10, 12, 0, 0, 0, time.UTC).Unix()
	now := time.Date(2023, 6, 13, 9, 0, 0, 0, time.UTC)

	// No stored neighbors, no oracle feed, and every pool call
	// reverts: each day fails and is skipped, never aborting the run.
	client := stub.NewClient()
	client.AddChain(base-300, base-200, base-100, base, base+100)
	client.SetCodeFrom(runnerToken, 3)

	runner, _ := newRunnerFixture(t, client, now)

	result, err := runner.Run(context.Background(), runnerToken, domain.NetworkEthereum)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 0, result.Filled)
	assert.Equal(t, 3, result.Failed)
}

func TestRunner_UnsupportedNetwork(t *testing.T) {
	runner, _ := newRunnerFixture(t, stub.NewClient(), time.Now())

	_, err := runner.Run(context.Background(), runnerToken, domain.Network("unknown"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
}

func TestRunner_ContractNotFound(t *testing.T) {
	client := stub.NewClient()
	client.AddChain(100, 200, 300)

	runner, _ := newRunnerFixture(t, client, time.Now())

	_, err := runner.Run(context.Background(), runnerToken, domain.NetworkEthereum)
	assert.ErrorIs(t, err, domain.ErrContractNotFound)
}

func TestRunner_Canceled(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	now := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	client := stub.NewClient()
	client.AddChain(base-100, base)
	client.SetCodeFrom(runnerToken, 1)

	runner, _ := newRunnerFixture(t, client, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, runnerToken, domain.NetworkEthereum)
	assert.ErrorIs(t, err, context.Canceled)
}
