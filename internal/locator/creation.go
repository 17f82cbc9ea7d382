package locator

import (
	"context"
	"fmt"
	"log"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
)

// CreationLocator finds the first block at which a contract has deployed
// bytecode.
type CreationLocator struct {
	client ethereum.ChainClient
	logger *log.Logger
}

// NewCreationLocator creates a CreationLocator.
func NewCreationLocator(client ethereum.ChainClient, logger *log.Logger) *CreationLocator {
	if logger == nil {
		logger = log.Default()
	}
	return &CreationLocator{client: client, logger: logger}
}

// FindCreationBlock converges on the earliest block where the contract has
// non-empty bytecode. The search starts at block 1: genesis cannot hold a
// transaction-deployed contract, and block number 0 doubles as the
// "latest" tag on the RPC surface. Returns domain.ErrContractNotFound if
// no block in range ever shows code.
func (l *CreationLocator) FindCreationBlock(ctx context.Context, address string) (*ethereum.Block, error) {
	latest, err := l.client.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest block: %w", err)
	}

	address = domain.NormalizeAddress(address)

	var found bool
	var creation uint64

	low, high := int64(1), int64(latest.Number)
	for low <= high {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mid := low + (high-low)/2
		code, err := l.client.CodeAt(ctx, address, uint64(mid))
		if err != nil {
			l.logger.Printf("bytecode probe %d for %s failed: %v", mid, address, err)
			high = mid - 1
			continue
		}

		if len(code) > 0 {
			// Contract existed at or before mid.
			found = true
			creation = uint64(mid)
			high = mid - 1
		} else {
			low = mid + 1
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrContractNotFound, address)
	}

	block, err := l.client.BlockByNumber(ctx, creation)
	if err != nil {
		return nil, fmt.Errorf("fetch creation block %d: %w", creation, err)
	}
	if block == nil {
		return nil, fmt.Errorf("creation block %d missing from node", creation)
	}
	return block, nil
}
