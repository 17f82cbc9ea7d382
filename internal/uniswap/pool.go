package uniswap

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
	"github.com/jallpatell/token-vitae-beta/internal/network"
)

// Selectors for the factory, pool, and ERC-20 read surface.
var (
	selGetPool  = ethereum.MustSelector("0x1698ee82") // getPool(address,address,uint24)
	selSlot0    = ethereum.MustSelector("0x3850c7bd") // slot0()
	selToken0   = ethereum.MustSelector("0x0dfe1681") // token0()
	selToken1   = ethereum.MustSelector("0xd21220a7") // token1()
	selDecimals = ethereum.MustSelector("0x313ce567") // decimals()
)

// Pool is the slice of V3 pool state the price computation needs.
// Token0/token1 ordering is pool-defined: it is always queried from the
// pool, never assumed from the caller's argument order.
type Pool struct {
	Address      string
	Token0       string
	Token1       string
	Fee          uint32
	SqrtPriceX96 *big.Int
}

// Quoter resolves token prices from on-chain pool state at a given block.
type Quoter struct {
	client ethereum.ChainClient
	cfg    *network.Config
	logger *log.Logger
}

// NewQuoter creates a Quoter for one network.
func NewQuoter(client ethereum.ChainClient, cfg *network.Config, logger *log.Logger) *Quoter {
	if logger == nil {
		logger = log.Default()
	}
	return &Quoter{client: client, cfg: cfg, logger: logger}
}

// USDPrice resolves the token's price in the network's quote token (USDC)
// at the given block. A direct token/quote pool is tried first across the
// configured fee tiers; failing that, both token/intermediate and
// intermediate/quote legs must exist and their prices multiply. Returns
// domain.ErrNoPoolFound when neither path exists.
//
// Fee tiers are probed in the configured fixed order and the first
// existing pool wins. Lowest-fee-first is NOT a quality guarantee:
// liquidity, not fee, determines price quality. This is a known
// limitation carried as policy.
func (q *Quoter) USDPrice(ctx context.Context, token string, blockNumber uint64) (decimal.Decimal, error) {
	token = domain.NormalizeAddress(token)

	if price, err := q.legPrice(ctx, token, q.cfg.QuoteToken, blockNumber); err == nil {
		return price, nil
	}

	// Two-hop: token -> intermediate -> quote. Both legs must exist.
	tokenPerIntermediate, err := q.legPrice(ctx, token, q.cfg.IntermediateToken, blockNumber)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: token %s", domain.ErrNoPoolFound, token)
	}
	intermediatePerQuote, err := q.legPrice(ctx, q.cfg.IntermediateToken, q.cfg.QuoteToken, blockNumber)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: intermediate leg for token %s", domain.ErrNoPoolFound, token)
	}

	return TwoHopPrice(tokenPerIntermediate, intermediatePerQuote), nil
}

// legPrice prices base in units of quote using the first existing pool
// for the pair.
func (q *Quoter) legPrice(ctx context.Context, base, quote string, blockNumber uint64) (decimal.Decimal, error) {
	pool, err := q.findPool(ctx, base, quote, blockNumber)
	if err != nil {
		return decimal.Zero, err
	}

	decimals0 := q.tokenDecimals(ctx, pool.Token0, blockNumber)
	decimals1 := q.tokenDecimals(ctx, pool.Token1, blockNumber)

	// Raw pool price is token1-per-token0. Orient it so the result is
	// quote-per-base.
	raw := PriceFromSqrtX96(pool.SqrtPriceX96, decimals0, decimals1)
	if raw.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: pool %s uninitialized", domain.ErrNoPoolFound, pool.Address)
	}
	if pool.Token0 == base {
		return raw, nil
	}
	return decimal.NewFromInt(1).DivRound(raw, divPrecision), nil
}

// findPool probes the configured fee tiers in order and returns the first
// pool that exists and has state at the block.
func (q *Quoter) findPool(ctx context.Context, tokenA, tokenB string, blockNumber uint64) (*Pool, error) {
	for _, fee := range q.cfg.FeeTiers {
		addr, err := q.getPool(ctx, tokenA, tokenB, fee, blockNumber)
		if err != nil {
			q.logger.Printf("getPool %s/%s fee %d: %v", tokenA, tokenB, fee, err)
			continue
		}
		if ethereum.IsZeroAddress(addr) {
			continue
		}

		pool, err := q.readPool(ctx, addr, fee, blockNumber)
		if err != nil {
			// Pool registered but unreadable at this block (not yet
			// deployed, or empty state). Try the next tier.
			q.logger.Printf("read pool %s at block %d: %v", addr, blockNumber, err)
			continue
		}
		return pool, nil
	}
	return nil, fmt.Errorf("%w: pair %s/%s", domain.ErrNoPoolFound, tokenA, tokenB)
}

// getPool calls factory.getPool(tokenA, tokenB, fee).
func (q *Quoter) getPool(ctx context.Context, tokenA, tokenB string, fee uint32, blockNumber uint64) (string, error) {
	data := append([]byte{}, selGetPool...)
	data, err := ethereum.AppendAddress(data, tokenA)
	if err != nil {
		return "", err
	}
	data, err = ethereum.AppendAddress(data, tokenB)
	if err != nil {
		return "", err
	}
	data = ethereum.AppendUint64(data, uint64(fee))

	out, err := q.client.CallContract(ctx, q.cfg.Factory, data, blockNumber)
	if err != nil {
		return "", err
	}
	return ethereum.WordAddress(out, 0)
}

// readPool fetches token ordering and slot0 state.
func (q *Quoter) readPool(ctx context.Context, address string, fee uint32, blockNumber uint64) (*Pool, error) {
	token0, err := q.callAddress(ctx, address, selToken0, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	token1, err := q.callAddress(ctx, address, selToken1, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	out, err := q.client.CallContract(ctx, address, selSlot0, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("slot0: %w", err)
	}
	sqrtPrice, err := ethereum.WordUint(out, 0)
	if err != nil {
		return nil, fmt.Errorf("slot0 sqrtPriceX96: %w", err)
	}

	return &Pool{
		Address:      address,
		Token0:       token0,
		Token1:       token1,
		Fee:          fee,
		SqrtPriceX96: sqrtPrice,
	}, nil
}

func (q *Quoter) callAddress(ctx context.Context, to string, selector []byte, blockNumber uint64) (string, error) {
	out, err := q.client.CallContract(ctx, to, selector, blockNumber)
	if err != nil {
		return "", err
	}
	return ethereum.WordAddress(out, 0)
}

// tokenDecimals reads decimals() from the token, falling back to the
// network's configured default when the call fails. The fallback is a
// documented assumption, not a silent data error.
func (q *Quoter) tokenDecimals(ctx context.Context, token string, blockNumber uint64) int32 {
	out, err := q.client.CallContract(ctx, token, selDecimals, blockNumber)
	if err == nil {
		if v, derr := ethereum.WordUint(out, 0); derr == nil {
			return int32(v.Int64())
		}
	}
	q.logger.Printf("decimals() failed for %s, assuming %d: %v", token, q.cfg.DefaultTokenDecimals, err)
	return int32(q.cfg.DefaultTokenDecimals)
}
