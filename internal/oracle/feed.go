// Package oracle reads Chainlink-compatible price feeds and locates the
// feed round nearest a target timestamp.
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
)

// Feed answer fixed-point precision: answers carry 8 decimal places.
const answerDecimals = 8

// Selectors for the aggregator read surface.
var (
	selLatestRoundData = ethereum.MustSelector("0xfeaf968c") // latestRoundData()
	selGetRoundData    = ethereum.MustSelector("0x9a6fc8f5") // getRoundData(uint80)
)

// Round is one published price round. Round identifiers are monotonically
// increasing uint80 values but not densely populated: probing a missing
// identifier reverts.
type Round struct {
	RoundID   *big.Int // uint80
	Answer    *big.Int // int256, 8 decimal places
	UpdatedAt int64    // unix seconds
}

// USDPrice converts the fixed-point answer to a decimal USD price.
func (r *Round) USDPrice() decimal.Decimal {
	return decimal.NewFromBigInt(r.Answer, -answerDecimals)
}

// Feed exposes the round reads the locator needs.
type Feed interface {
	// LatestRound returns the most recent round.
	LatestRound(ctx context.Context) (*Round, error)

	// RoundData returns the round with the given identifier. Missing
	// identifiers surface as ethereum.ErrCallReverted.
	RoundData(ctx context.Context, roundID *big.Int) (*Round, error)
}

// ChainFeed reads an on-chain aggregator through a ChainClient.
type ChainFeed struct {
	client  ethereum.ChainClient
	address string
}

// NewChainFeed creates a feed bound to the aggregator at address.
func NewChainFeed(client ethereum.ChainClient, address string) *ChainFeed {
	return &ChainFeed{client: client, address: address}
}

var _ Feed = (*ChainFeed)(nil)

// LatestRound calls latestRoundData().
func (f *ChainFeed) LatestRound(ctx context.Context) (*Round, error) {
	out, err := f.client.CallContract(ctx, f.address, selLatestRoundData, 0)
	if err != nil {
		return nil, fmt.Errorf("latestRoundData %s: %w", f.address, err)
	}
	return decodeRound(out)
}

// RoundData calls getRoundData(roundID).
func (f *ChainFeed) RoundData(ctx context.Context, roundID *big.Int) (*Round, error) {
	data := ethereum.AppendUint(append([]byte{}, selGetRoundData...), roundID)
	out, err := f.client.CallContract(ctx, f.address, data, 0)
	if err != nil {
		return nil, fmt.Errorf("getRoundData %s round %s: %w", f.address, roundID, err)
	}
	return decodeRound(out)
}

// decodeRound unpacks (roundId, answer, startedAt, updatedAt, answeredInRound).
func decodeRound(out []byte) (*Round, error) {
	roundID, err := ethereum.WordUint(out, 0)
	if err != nil {
		return nil, fmt.Errorf("decode roundId: %w", err)
	}
	answer, err := ethereum.WordInt(out, 1)
	if err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	updatedAt, err := ethereum.WordUint(out, 3)
	if err != nil {
		return nil, fmt.Errorf("decode updatedAt: %w", err)
	}
	return &Round{
		RoundID:   roundID,
		Answer:    answer,
		UpdatedAt: updatedAt.Int64(),
	}, nil
}
