package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Source identifies which stage of the resolution chain produced a price.
type Source string

const (
	SourceCache        Source = "cache"
	SourceOracle       Source = "oracle"
	SourcePool         Source = "pool"
	SourceInterpolated Source = "interpolated"
	SourceApproximate  Source = "approximate"
)

// PriceRecord is a resolved daily USD price for a token on a network.
// Corresponds to the price_records table in PostgreSQL.
// Unique by (token, network, date); writes are last-writer-wins upserts.
type PriceRecord struct {
	Token     string          // lowercase hex address
	Network   Network         // ethereum, polygon, ...
	Date      int64           // unix seconds, UTC, truncated to integer
	Price     decimal.Decimal // USD
	Source    Source
	CreatedAt int64 // record creation timestamp (unix seconds), set by storage
}

// Fingerprint uniquely identifies a price lookup or record.
type Fingerprint struct {
	Token   string
	Network Network
	Date    int64
}

// NewFingerprint normalizes the token address and truncates the timestamp
// to whole seconds. Fractional or millisecond inputs must be floored by the
// caller before reaching here.
func NewFingerprint(token string, network Network, date int64) Fingerprint {
	return Fingerprint{
		Token:   NormalizeAddress(token),
		Network: network,
		Date:    date,
	}
}

// CacheKey returns the cache key for this fingerprint, in the form
// price:<token>:<network>:<ts>.
func (f Fingerprint) CacheKey() string {
	return fmt.Sprintf("price:%s:%s:%d", f.Token, f.Network, f.Date)
}

// NormalizeAddress lowercases a hex address so that lookups and stored
// records agree on a single canonical form.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
