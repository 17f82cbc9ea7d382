// Package locator maps timestamps and contract addresses to blocks via
// binary search over block numbers. Searches are sequential on purpose:
// each probe depends on the previous narrowing.
package locator

import (
	"context"
	"fmt"
	"log"

	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
	"github.com/jallpatell/token-vitae-beta/internal/observability"
)

// BlockLocator finds the block closest in time to a target timestamp.
type BlockLocator struct {
	client ethereum.ChainClient
	logger *log.Logger
}

// NewBlockLocator creates a BlockLocator.
func NewBlockLocator(client ethereum.ChainClient, logger *log.Logger) *BlockLocator {
	if logger == nil {
		logger = log.Default()
	}
	return &BlockLocator{client: client, logger: logger}
}

// FindBlockNear returns the block whose timestamp is closest to target in
// absolute distance, searching [0, latest]. It never fails as long as the
// latest block is fetchable: unfetchable probes narrow the interval
// without updating the candidate, and the latest block seeds the
// candidate. Ties prefer the earlier block.
func (l *BlockLocator) FindBlockNear(ctx context.Context, target int64) (*ethereum.Block, error) {
	latest, err := l.client.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest block: %w", err)
	}

	best := latest
	probes := 0

	low, high := int64(0), int64(latest.Number)
	for low <= high {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mid := low + (high-low)/2
		block, err := l.client.BlockByNumber(ctx, uint64(mid))
		probes++
		if err != nil || block == nil {
			if err != nil {
				l.logger.Printf("block probe %d failed: %v", mid, err)
			}
			// Probe-abort: narrow toward lower numbers without touching
			// the candidate; missing blocks behave like not-yet-existing.
			high = mid - 1
			continue
		}

		if block.Timestamp == target {
			observability.RecordBlockSearch(probes)
			return block, nil
		}

		if closer(block.Timestamp, best.Timestamp, target) {
			best = block
		}

		if block.Timestamp < target {
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	observability.RecordBlockSearch(probes)
	return best, nil
}

// closer reports whether candidate ts a beats current best ts b for the
// target, preferring the earlier timestamp on a tie.
func closer(a, b, target int64) bool {
	da, db := absDiff(a, target), absDiff(b, target)
	if da != db {
		return da < db
	}
	return a < b
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
