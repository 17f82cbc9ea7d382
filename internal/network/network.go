// Package network holds the closed set of supported networks and their
// static configuration: Uniswap V3 factory, quote and intermediate tokens,
// fee-tier probe order, and the Chainlink feed table.
package network

import (
	"fmt"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
)

// Config is the static configuration for one supported network.
type Config struct {
	Network domain.Network
	ChainID uint64

	// Factory is the Uniswap V3 factory used for pool discovery.
	Factory string

	// QuoteToken is the USD-pegged quote leg (USDC on both networks).
	QuoteToken string

	// IntermediateToken is the two-hop bridge leg (WETH).
	IntermediateToken string

	// FeeTiers is the pool probe order in hundredths of a bip
	// (500 = 0.05%, 3000 = 0.3%, 10000 = 1%). The first tier with an
	// existing pool wins; this is a fixed policy, not a liquidity-aware
	// choice.
	FeeTiers []uint32

	// OracleFeeds maps lowercase token address to a Chainlink-compatible
	// USD aggregator address. Tokens absent from the table have no oracle
	// path.
	OracleFeeds map[string]string

	// DefaultTokenDecimals is used when the decimals() call on a token
	// fails. A documented assumption rather than a silent one.
	DefaultTokenDecimals int
}

// OracleFeed returns the feed address configured for the token, if any.
func (c *Config) OracleFeed(token string) (string, bool) {
	feed, ok := c.OracleFeeds[domain.NormalizeAddress(token)]
	return feed, ok
}

// Well-known mainnet addresses, lowercase.
const (
	ethereumFactory = "0x1f98431c8ad98523631ae4a59f267346ea31f984"
	ethereumUSDC    = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	ethereumWETH    = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	ethereumDAI     = "0x6b175474e89094c44da98b954eedeac495271d0f"
	ethereumWBTC    = "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"

	polygonFactory = "0x1f98431c8ad98523631ae4a59f267346ea31f984"
	polygonUSDC    = "0x2791bca1f2de4661ed88a30c99a7a9449aa84174"
	polygonWETH    = "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619"
	polygonWMATIC  = "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270"
)

var configs = map[domain.Network]*Config{
	domain.NetworkEthereum: {
		Network:           domain.NetworkEthereum,
		ChainID:           1,
		Factory:           ethereumFactory,
		QuoteToken:        ethereumUSDC,
		IntermediateToken: ethereumWETH,
		FeeTiers:          []uint32{500, 3000, 10000},
		OracleFeeds: map[string]string{
			ethereumWETH: "0x5f4ec3df9cbd43714fe2740f5e3616155c5b8419", // ETH/USD
			ethereumUSDC: "0x8fffffd4afb6115b954bd326cbe7b4ba576818f6", // USDC/USD
			ethereumDAI:  "0xaed0c38402a5d19df6e4c03f4e2dced6e29c1ee9", // DAI/USD
			ethereumWBTC: "0xf4030086522a5beea4988f8ca5b36dbc97bee88c", // BTC/USD
		},
		DefaultTokenDecimals: 18,
	},
	domain.NetworkPolygon: {
		Network:           domain.NetworkPolygon,
		ChainID:           137,
		Factory:           polygonFactory,
		QuoteToken:        polygonUSDC,
		IntermediateToken: polygonWETH,
		FeeTiers:          []uint32{500, 3000, 10000},
		OracleFeeds: map[string]string{
			polygonWETH:   "0xf9680d99d6c9589e2a93a78a04a279e509205945", // ETH/USD
			polygonWMATIC: "0xab594600376ec9fd91f8e885dadf0ce036862de0", // MATIC/USD
			polygonUSDC:   "0xfe4a8cc5b5b2366c1b58bea3858e81843581b2f7", // USDC/USD
		},
		DefaultTokenDecimals: 18,
	},
}

// ByName resolves a network name to its configuration. Unknown names are
// rejected here, at the boundary, with domain.ErrUnsupportedNetwork.
func ByName(name string) (*Config, error) {
	n := domain.Network(name)
	cfg, ok := configs[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, name)
	}
	return cfg, nil
}

// ByNetwork resolves a network value to its configuration.
func ByNetwork(n domain.Network) (*Config, error) {
	return ByName(string(n))
}

// Supported lists the supported network names.
func Supported() []string {
	names := make([]string, 0, len(configs))
	for n := range configs {
		names = append(names, string(n))
	}
	return names
}
