// Package resolver implements the price resolution engine: an ordered
// fallback chain across price sources, from the cache down to
// interpolation between stored neighbors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jallpatell/token-vitae-beta/internal/cache"
	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
	"github.com/jallpatell/token-vitae-beta/internal/locator"
	"github.com/jallpatell/token-vitae-beta/internal/network"
	"github.com/jallpatell/token-vitae-beta/internal/observability"
	"github.com/jallpatell/token-vitae-beta/internal/oracle"
	"github.com/jallpatell/token-vitae-beta/internal/storage"
	"github.com/jallpatell/token-vitae-beta/internal/uniswap"
)

// ratioPrecision bounds the interpolation ratio's decimal places.
const ratioPrecision = 36

// Backend bundles the chain access for one supported network.
type Backend struct {
	Client ethereum.ChainClient
	Config *network.Config

	blocks *locator.BlockLocator
	rounds *oracle.RoundLocator
	quoter *uniswap.Quoter
}

// NewBackend wires the block locator, round locator and pool quoter
// for one network.
func NewBackend(client ethereum.ChainClient, cfg *network.Config, logger *log.Logger) *Backend {
	return &Backend{
		Client: client,
		Config: cfg,
		blocks: locator.NewBlockLocator(client, logger),
		rounds: oracle.NewRoundLocator(logger),
		quoter: uniswap.NewQuoter(client, cfg, logger),
	}
}

// outcome is the explicit result of one fallback stage. Each stage
// either produces a record, yields to the next stage, or aborts the
// whole resolution.
type outcome int

const (
	outcomeHit outcome = iota
	outcomeContinue
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeHit:
		return "hit"
	case outcomeContinue:
		return "continue"
	default:
		return "fatal"
	}
}

// Resolver walks the fallback chain for a (token, network, timestamp)
// fingerprint. It holds no locks: concurrent identical lookups may
// both run the full chain, and the idempotent store upsert keeps the
// final value stable regardless of write order.
type Resolver struct {
	store    storage.PriceStore
	cache    cache.PriceCache
	backends map[domain.Network]*Backend
	cacheTTL time.Duration
	logger   *log.Logger
}

type Option func(*Resolver)

// WithCacheTTL overrides the default cache entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func New(store storage.PriceStore, priceCache cache.PriceCache, backends map[domain.Network]*Backend, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		cache:    priceCache,
		backends: backends,
		cacheTTL: cache.DefaultTTL,
		logger:   log.New(os.Stdout, "[RESOLVER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the chain backend for a network, or an
// ErrUnsupportedNetwork error.
func (r *Resolver) Backend(net domain.Network) (*Backend, error) {
	backend, ok := r.backends[net]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedNetwork, net)
	}
	return backend, nil
}

// Resolve returns the USD price of token on net at the given unix
// timestamp. Stages run in a fixed order and each is reached only if
// the prior stage produced nothing:
//
//  1. cache lookup
//  2. stored record lookup
//  3. oracle round search (when a feed is configured for the token)
//  4. pool computation at the nearest block
//  5. interpolation between the nearest stored neighbors
//
// Every chain-derived or interpolated price is upserted to the store
// and written to the cache before returning. Unknown networks and
// store unavailability are the only fatal failures; everything else
// falls through until ErrNoPriceData.
func (r *Resolver) Resolve(ctx context.Context, token string, net domain.Network, timestamp int64) (*domain.PriceRecord, error) {
	backend, err := r.Backend(net)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	fp := domain.NewFingerprint(token, net, timestamp)

	type stage struct {
		name string
		run  func(context.Context, *Backend, domain.Fingerprint) (*domain.PriceRecord, outcome, error)
	}
	stages := []stage{
		{"cache", r.fromCache},
		{"store", r.fromStore},
		{"oracle", r.fromOracle},
		{"pool", r.fromPool},
		{"interpolate", r.fromNeighbors},
	}

	for _, s := range stages {
		record, out, err := s.run(ctx, backend, fp)
		observability.RecordStageAttempt(s.name, out.String())
		switch out {
		case outcomeHit:
			observability.RecordResolution(string(record.Source), "ok", time.Since(start).Seconds())
			observability.DefaultMetrics.LastSuccessfulResolution.SetToCurrentTime()
			return record, nil
		case outcomeFatal:
			observability.RecordResolution("none", "error", time.Since(start).Seconds())
			return nil, err
		case outcomeContinue:
			if err != nil {
				r.logger.Printf("Stage %s yielded nothing for %s@%d on %s: %v", s.name, fp.Token, fp.Date, fp.Network, err)
			}
		}
	}

	observability.RecordResolution("none", "no_data", time.Since(start).Seconds())
	return nil, fmt.Errorf("%w: %s@%d on %s", domain.ErrNoPriceData, fp.Token, fp.Date, fp.Network)
}

func (r *Resolver) fromCache(ctx context.Context, _ *Backend, fp domain.Fingerprint) (*domain.PriceRecord, outcome, error) {
	record, hit, err := r.cache.Get(ctx, fp)
	if err != nil {
		// Cache trouble is a latency problem, not a correctness one.
		return nil, outcomeContinue, err
	}
	if !hit {
		return nil, outcomeContinue, nil
	}
	record.Source = domain.SourceCache
	return record, outcomeHit, nil
}

func (r *Resolver) fromStore(ctx context.Context, _ *Backend, fp domain.Fingerprint) (*domain.PriceRecord, outcome, error) {
	record, err := r.store.Get(ctx, fp)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, outcomeContinue, nil
	}
	if err != nil {
		return nil, outcomeFatal, fmt.Errorf("failed to read price store: %w", err)
	}

	if cacheErr := r.cache.Set(ctx, record, r.cacheTTL); cacheErr != nil {
		r.logger.Printf("Failed to cache stored price for %s@%d: %v", fp.Token, fp.Date, cacheErr)
	}
	return record, outcomeHit, nil
}

func (r *Resolver) fromOracle(ctx context.Context, backend *Backend, fp domain.Fingerprint) (*domain.PriceRecord, outcome, error) {
	feedAddr, ok := backend.Config.OracleFeed(fp.Token)
	if !ok {
		return nil, outcomeContinue, fmt.Errorf("%w for %s", domain.ErrNoOracleFeed, fp.Token)
	}

	feed := oracle.NewChainFeed(backend.Client, feedAddr)
	round, err := backend.rounds.FindRoundNear(ctx, feed, fp.Date)
	if err != nil {
		return nil, outcomeContinue, classifyUpstream(err)
	}

	return r.persist(ctx, fp, round.USDPrice(), domain.SourceOracle)
}

func (r *Resolver) fromPool(ctx context.Context, backend *Backend, fp domain.Fingerprint) (*domain.PriceRecord, outcome, error) {
	block, err := backend.blocks.FindBlockNear(ctx, fp.Date)
	if err != nil {
		return nil, outcomeContinue, classifyUpstream(err)
	}

	price, err := backend.quoter.USDPrice(ctx, fp.Token, block.Number)
	if err != nil {
		return nil, outcomeContinue, classifyUpstream(err)
	}

	return r.persist(ctx, fp, price, domain.SourcePool)
}

// classifyUpstream folds transient RPC failures into the domain error
// taxonomy so stage logs distinguish them from genuinely absent data.
func classifyUpstream(err error) error {
	if errors.Is(err, ethereum.ErrUnavailable) {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return err
}

func (r *Resolver) fromNeighbors(ctx context.Context, _ *Backend, fp domain.Fingerprint) (*domain.PriceRecord, outcome, error) {
	before, errBefore := r.store.NearestBefore(ctx, fp)
	if errBefore != nil && !errors.Is(errBefore, storage.ErrNotFound) {
		return nil, outcomeFatal, fmt.Errorf("failed to read price store: %w", errBefore)
	}
	after, errAfter := r.store.NearestAfter(ctx, fp)
	if errAfter != nil && !errors.Is(errAfter, storage.ErrNotFound) {
		return nil, outcomeFatal, fmt.Errorf("failed to read price store: %w", errAfter)
	}

	switch {
	case before != nil && after != nil:
		return r.persist(ctx, fp, interpolate(before, after, fp.Date), domain.SourceInterpolated)
	case before != nil:
		return r.persist(ctx, fp, before.Price, domain.SourceApproximate)
	case after != nil:
		return r.persist(ctx, fp, after.Price, domain.SourceApproximate)
	default:
		return nil, outcomeContinue, nil
	}
}

// interpolate linearly weighs the neighboring prices by the target's
// position between their dates.
func interpolate(before, after *domain.PriceRecord, target int64) decimal.Decimal {
	ratio := decimal.NewFromInt(target - before.Date).
		DivRound(decimal.NewFromInt(after.Date-before.Date), ratioPrecision)
	return before.Price.Add(after.Price.Sub(before.Price).Mul(ratio))
}

// persist upserts the record and warms the cache. A store failure is
// fatal so a caller never receives a price the system failed to
// remember; a cache failure is only logged.
func (r *Resolver) persist(ctx context.Context, fp domain.Fingerprint, price decimal.Decimal, source domain.Source) (*domain.PriceRecord, outcome, error) {
	record := &domain.PriceRecord{
		Token:     fp.Token,
		Network:   fp.Network,
		Date:      fp.Date,
		Price:     price,
		Source:    source,
		CreatedAt: time.Now().Unix(),
	}

	if err := r.store.Upsert(ctx, record); err != nil {
		return nil, outcomeFatal, fmt.Errorf("failed to persist %s price: %w", source, err)
	}
	if err := r.cache.Set(ctx, record, r.cacheTTL); err != nil {
		r.logger.Printf("Failed to cache %s price for %s@%d: %v", source, fp.Token, fp.Date, err)
	}
	return record, outcomeHit, nil
}
