package oracle

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
)

// stubFeed serves rounds from a map; absent identifiers revert like a
// real aggregator.
type stubFeed struct {
	rounds map[uint64]*Round
	latest uint64
	probes int
}

func newStubFeed(updatedAts map[uint64]int64) *stubFeed {
	f := &stubFeed{rounds: make(map[uint64]*Round)}
	for id, ts := range updatedAts {
		f.rounds[id] = &Round{
			RoundID:   new(big.Int).SetUint64(id),
			Answer:    big.NewInt(int64(id) * 100000000),
			UpdatedAt: ts,
		}
		if id > f.latest {
			f.latest = id
		}
	}
	return f
}

func (f *stubFeed) LatestRound(context.Context) (*Round, error) {
	round, ok := f.rounds[f.latest]
	if !ok {
		return nil, errors.New("no rounds")
	}
	return round, nil
}

func (f *stubFeed) RoundData(_ context.Context, roundID *big.Int) (*Round, error) {
	f.probes++
	round, ok := f.rounds[roundID.Uint64()]
	if !ok {
		return nil, ethereum.ErrCallReverted
	}
	return round, nil
}

var _ Feed = (*stubFeed)(nil)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestFindRoundNear_ExactMatch(t *testing.T) {
	feed := newStubFeed(map[uint64]int64{1: 100, 2: 200, 3: 300, 4: 400})

	l := NewRoundLocator(quietLogger())

	round, err := l.FindRoundNear(context.Background(), feed, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), round.RoundID.Uint64())
}

func TestFindRoundNear_Closest(t *testing.T) {
	feed := newStubFeed(map[uint64]int64{1: 100, 2: 200, 3: 300, 4: 400})

	l := NewRoundLocator(quietLogger())

	tests := []struct {
		target int64
		want   uint64
	}{
		{120, 1},
		{260, 3},
		{999, 4},  // beyond the latest round clamps to it
		{-100, 1}, // before the first round clamps to it
	}
	for _, tt := range tests {
		round, err := l.FindRoundNear(context.Background(), feed, tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.want, round.RoundID.Uint64(), "target %d", tt.target)
	}
}

func TestFindRoundNear_SparseIdentifiers(t *testing.T) {
	// Proxy aggregators leave gaps in the identifier space; probes into
	// a gap revert and must only narrow the interval.
	feed := newStubFeed(map[uint64]int64{1: 100, 2: 200, 7: 700, 8: 800})

	l := NewRoundLocator(quietLogger())

	round, err := l.FindRoundNear(context.Background(), feed, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), round.RoundID.Uint64())
}

func TestFindRoundNear_ZeroUpdatedAtSkipped(t *testing.T) {
	feed := newStubFeed(map[uint64]int64{1: 100, 3: 300})
	feed.rounds[2] = &Round{RoundID: big.NewInt(2), Answer: big.NewInt(0), UpdatedAt: 0}

	l := NewRoundLocator(quietLogger())

	round, err := l.FindRoundNear(context.Background(), feed, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), round.RoundID.Uint64(), "an unanswered round never becomes the candidate")
}

func TestFindRoundNear_NeverWorseThanLatest(t *testing.T) {
	feed := newStubFeed(map[uint64]int64{5: 500})

	l := NewRoundLocator(quietLogger())

	round, err := l.FindRoundNear(context.Background(), feed, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), round.RoundID.Uint64())
}

func TestFindRoundNear_LatestUnavailable(t *testing.T) {
	feed := &stubFeed{rounds: map[uint64]*Round{}}

	l := NewRoundLocator(quietLogger())

	_, err := l.FindRoundNear(context.Background(), feed, 100)
	assert.Error(t, err)
}

func TestFindRoundNear_LargeIdentifierSpace(t *testing.T) {
	// Proxy round identifiers are phase<<64 | round and exceed uint64
	// arithmetic when added. With the populated identifiers packed at
	// the very top of the range, every gap probe reverts; the search
	// must terminate without overflow and never return anything worse
	// than the latest round.
	phase := new(big.Int).Lsh(big.NewInt(1), 64)

	mk := func(offset int64, ts int64) *Round {
		return &Round{
			RoundID:   new(big.Int).Add(phase, big.NewInt(offset)),
			Answer:    big.NewInt(100000000),
			UpdatedAt: ts,
		}
	}
	latest := mk(3, 1000)

	byID := map[string]*Round{}
	for i := int64(1); i <= 3; i++ {
		r := mk(i, i*100)
		byID[r.RoundID.String()] = r
	}

	bigFeed := &mapFeed{latest: latest, byID: byID}

	l := NewRoundLocator(quietLogger())

	round, err := l.FindRoundNear(context.Background(), bigFeed, 555)
	require.NoError(t, err)
	assert.Equal(t, latest.RoundID.String(), round.RoundID.String())
}

type mapFeed struct {
	latest *Round
	byID   map[string]*Round
}

func (f *mapFeed) LatestRound(context.Context) (*Round, error) { return f.latest, nil }

func (f *mapFeed) RoundData(_ context.Context, roundID *big.Int) (*Round, error) {
	round, ok := f.byID[roundID.String()]
	if !ok {
		return nil, ethereum.ErrCallReverted
	}
	return round, nil
}

func TestFindRoundNear_Canceled(t *testing.T) {
	feed := newStubFeed(map[uint64]int64{1: 100, 2: 200})

	l := NewRoundLocator(quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.FindRoundNear(ctx, feed, 100)
	assert.ErrorIs(t, err, context.Canceled)
}
