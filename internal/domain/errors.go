package domain

import "errors"

// Resolution error taxonomy. Only ErrUnsupportedNetwork (and storage-layer
// unavailability, surfaced by the storage package) is fatal to a caller;
// the remaining sentinels are expected "this stage produced nothing"
// signals that drive fallthrough inside the resolver.
var (
	// ErrUnsupportedNetwork indicates a network outside the closed set.
	// Configuration error, always fatal.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrNoOracleFeed indicates no oracle feed is configured for the token.
	ErrNoOracleFeed = errors.New("no oracle feed configured")

	// ErrNoPoolFound indicates neither a direct pool nor both two-hop legs
	// exist for the token pair.
	ErrNoPoolFound = errors.New("no pool found")

	// ErrContractNotFound indicates no block in range ever showed bytecode
	// at the contract address.
	ErrContractNotFound = errors.New("contract not found")

	// ErrNoPriceData is the terminal resolution failure: every stage
	// exhausted and no neighboring records exist to interpolate from.
	// Callers can distinguish it from transient upstream trouble.
	ErrNoPriceData = errors.New("no price data available")

	// ErrUpstreamUnavailable marks a transient network failure from the
	// chain RPC. Logged and treated as a stage miss, never retried
	// synchronously.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
