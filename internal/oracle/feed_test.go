package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum/stub"
)

const feedAddr = "0x2222222222222222222222222222222222222222"

func word(v *big.Int) []byte {
	out := make([]byte, 32)
	u := v
	if v.Sign() < 0 {
		u = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), v)
	}
	u.FillBytes(out)
	return out
}

func roundResponse(id, answer *big.Int, updatedAt int64) []byte {
	var out []byte
	out = append(out, word(id)...)
	out = append(out, word(answer)...)
	out = append(out, word(big.NewInt(0))...)
	out = append(out, word(big.NewInt(updatedAt))...)
	out = append(out, word(id)...)
	return out
}

func TestChainFeed_LatestRound(t *testing.T) {
	client := stub.NewClient()
	client.CallFn = func(to string, data []byte, _ uint64) ([]byte, error) {
		require.Equal(t, feedAddr, to)
		require.Equal(t, []byte(ethereum.MustSelector("0xfeaf968c")), data)
		return roundResponse(big.NewInt(42), big.NewInt(150000000000), 1700000000), nil
	}

	feed := NewChainFeed(client, feedAddr)

	round, err := feed.LatestRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), round.RoundID.Int64())
	assert.Equal(t, int64(1700000000), round.UpdatedAt)
	assert.True(t, round.USDPrice().Equal(decimal.NewFromInt(1500)))
}

func TestChainFeed_RoundData(t *testing.T) {
	client := stub.NewClient()
	client.CallFn = func(to string, data []byte, _ uint64) ([]byte, error) {
		require.Len(t, data, 36)
		require.Equal(t, []byte(ethereum.MustSelector("0x9a6fc8f5")), data[:4])
		id := new(big.Int).SetBytes(data[4:36])
		return roundResponse(id, big.NewInt(99000000), 500), nil
	}

	feed := NewChainFeed(client, feedAddr)

	round, err := feed.RoundData(context.Background(), big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), round.RoundID.Int64())
	assert.True(t, round.USDPrice().Equal(decimal.RequireFromString("0.99")))
}

func TestChainFeed_RevertPropagates(t *testing.T) {
	feed := NewChainFeed(stub.NewClient(), feedAddr)

	_, err := feed.RoundData(context.Background(), big.NewInt(7))
	assert.ErrorIs(t, err, ethereum.ErrCallReverted)
}

func TestChainFeed_NegativeAnswer(t *testing.T) {
	// int256 answers can be negative in theory; the two's complement
	// decode must preserve the sign.
	client := stub.NewClient()
	client.CallFn = func(string, []byte, uint64) ([]byte, error) {
		return roundResponse(big.NewInt(1), big.NewInt(-100000000), 100), nil
	}

	feed := NewChainFeed(client, feedAddr)

	round, err := feed.LatestRound(context.Background())
	require.NoError(t, err)
	assert.True(t, round.USDPrice().Equal(decimal.NewFromInt(-1)))
}

func TestChainFeed_ShortResponse(t *testing.T) {
	client := stub.NewClient()
	client.CallFn = func(string, []byte, uint64) ([]byte, error) {
		return []byte{0x01, 0x02}, nil
	}

	feed := NewChainFeed(client, feedAddr)

	_, err := feed.LatestRound(context.Background())
	assert.Error(t, err)
}

func TestRound_USDPriceDecimals(t *testing.T) {
	round := &Round{Answer: big.NewInt(123456789), UpdatedAt: 1}
	assert.Equal(t, "1.23456789", round.USDPrice().String())
}

func TestChainFeed_ProxyScaleRoundID(t *testing.T) {
	// Round identifiers from proxy aggregators exceed uint64.
	proxyID := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(2), 64), big.NewInt(77))

	client := stub.NewClient()
	client.CallFn = func(_ string, data []byte, _ uint64) ([]byte, error) {
		id := new(big.Int).SetBytes(data[4:36])
		require.Zero(t, id.Cmp(proxyID))
		return roundResponse(id, big.NewInt(100000000), 100), nil
	}

	feed := NewChainFeed(client, feedAddr)

	round, err := feed.RoundData(context.Background(), proxyID)
	require.NoError(t, err)
	assert.Zero(t, round.RoundID.Cmp(proxyID))
}
