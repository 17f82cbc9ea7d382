package ethereum

import "context"

// Block is the slice of an Ethereum block header the resolution engine
// cares about. Blocks are read-only and sourced from RPC; the engine only
// searches over their ordering.
type Block struct {
	Number    uint64
	Timestamp int64 // unix seconds
}

// ChainClient is the read-only chain access surface. One instance per
// supported network. A blockNumber of 0 passed to CodeAt or CallContract
// means "latest".
type ChainClient interface {
	// LatestBlock returns the most recent block.
	LatestBlock(ctx context.Context) (*Block, error)

	// BlockByNumber returns the block at the given height, or (nil, nil)
	// if the node has no block at that height.
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)

	// CodeAt returns the contract bytecode at the address as of the given
	// block. An empty slice means no code was deployed yet.
	CodeAt(ctx context.Context, address string, blockNumber uint64) ([]byte, error)

	// CallContract performs a read-only call against the contract at the
	// given block. Reverts surface as ErrCallReverted.
	CallContract(ctx context.Context, to string, data []byte, blockNumber uint64) ([]byte, error)
}
