package oracle

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/jallpatell/token-vitae-beta/internal/observability"
)

// RoundLocator finds the feed round whose updatedAt is closest to a target
// timestamp via binary search over round identifiers. The search is
// sequential: each probe depends on the previous narrowing.
type RoundLocator struct {
	logger *log.Logger
}

// NewRoundLocator creates a RoundLocator.
func NewRoundLocator(logger *log.Logger) *RoundLocator {
	if logger == nil {
		logger = log.Default()
	}
	return &RoundLocator{logger: logger}
}

// FindRoundNear returns the available round closest to target. The latest
// round establishes the upper bound and seeds the best candidate, so the
// result is never further from target than the latest round. Probes that
// revert (missing identifiers) narrow the upper bound without updating the
// candidate. An exact updatedAt match returns immediately; otherwise the
// closest round seen wins. That is a closest-available guarantee, not an
// exact-match one.
func (l *RoundLocator) FindRoundNear(ctx context.Context, feed Feed, target int64) (*Round, error) {
	latest, err := feed.LatestRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest round: %w", err)
	}

	best := latest
	probes := 0

	one := big.NewInt(1)
	low := new(big.Int).Set(one)
	high := new(big.Int).Set(latest.RoundID)

	for low.Cmp(high) <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// mid = (low + high) / 2
		mid := new(big.Int).Add(low, high)
		mid.Rsh(mid, 1)

		round, err := feed.RoundData(ctx, mid)
		probes++
		if err != nil || round.UpdatedAt == 0 {
			// Treat the identifier as nonexistent: narrow the upper
			// bound and keep the candidate untouched.
			if err != nil {
				l.logger.Printf("round probe %s failed: %v", mid, err)
			}
			high.Sub(mid, one)
			continue
		}

		if round.UpdatedAt == target {
			observability.RecordRoundSearch(probes)
			return round, nil
		}

		if absDiff(round.UpdatedAt, target) < absDiff(best.UpdatedAt, target) {
			best = round
		}

		if round.UpdatedAt < target {
			low.Add(mid, one)
		} else {
			high.Sub(mid, one)
		}
	}

	observability.RecordRoundSearch(probes)
	return best, nil
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
