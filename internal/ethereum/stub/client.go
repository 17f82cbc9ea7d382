// Package stub provides an in-memory ChainClient for tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
)

// ErrProbeFailed simulates a transient fetch failure for a probed block.
var ErrProbeFailed = errors.New("probe failed")

// Client implements ethereum.ChainClient for testing.
type Client struct {
	Blocks       map[uint64]*ethereum.Block
	Latest       uint64
	CodeFrom     map[string]uint64 // address -> first block with bytecode
	FailBlocks   map[uint64]bool   // block numbers whose fetch errors
	AbsentBlocks map[uint64]bool   // block numbers the node reports missing

	// CallFn handles CallContract; nil means every call reverts.
	CallFn func(to string, data []byte, blockNumber uint64) ([]byte, error)

	// calls counts RPC round trips by method. Callers may resolve
	// concurrently, so access goes through record and CallCount.
	callsMu sync.Mutex
	calls   map[string]int
}

// NewClient creates an empty stub client.
func NewClient() *Client {
	return &Client{
		Blocks:       make(map[uint64]*ethereum.Block),
		CodeFrom:     make(map[string]uint64),
		FailBlocks:   make(map[uint64]bool),
		AbsentBlocks: make(map[uint64]bool),
		calls:        make(map[string]int),
	}
}

func (c *Client) record(method string) {
	c.callsMu.Lock()
	c.calls[method]++
	c.callsMu.Unlock()
}

// CallCount returns the number of RPC round trips made for a method.
func (c *Client) CallCount(method string) int {
	c.callsMu.Lock()
	defer c.callsMu.Unlock()
	return c.calls[method]
}

var _ ethereum.ChainClient = (*Client)(nil)

// AddBlock registers a block and advances Latest if needed.
func (c *Client) AddBlock(number uint64, timestamp int64) {
	c.Blocks[number] = &ethereum.Block{Number: number, Timestamp: timestamp}
	if number > c.Latest {
		c.Latest = number
	}
}

// AddChain registers a contiguous chain starting at block 0 with the given
// timestamps.
func (c *Client) AddChain(timestamps ...int64) {
	for i, ts := range timestamps {
		c.AddBlock(uint64(i), ts)
	}
}

// SetCodeFrom marks the first block at which the address has bytecode.
func (c *Client) SetCodeFrom(address string, block uint64) {
	c.CodeFrom[address] = block
}

// LatestBlock returns the highest registered block.
func (c *Client) LatestBlock(_ context.Context) (*ethereum.Block, error) {
	c.record("LatestBlock")
	block, ok := c.Blocks[c.Latest]
	if !ok {
		return nil, fmt.Errorf("%w: no blocks registered", ethereum.ErrUnavailable)
	}
	b := *block
	return &b, nil
}

// BlockByNumber returns the registered block, honoring FailBlocks and
// AbsentBlocks.
func (c *Client) BlockByNumber(_ context.Context, number uint64) (*ethereum.Block, error) {
	c.record("BlockByNumber")
	if c.FailBlocks[number] {
		return nil, fmt.Errorf("%w: block %d", ErrProbeFailed, number)
	}
	if c.AbsentBlocks[number] {
		return nil, nil
	}
	block, ok := c.Blocks[number]
	if !ok {
		return nil, nil
	}
	b := *block
	return &b, nil
}

// CodeAt returns synthetic bytecode when the address exists at or before
// the block, empty bytes otherwise.
func (c *Client) CodeAt(_ context.Context, address string, blockNumber uint64) ([]byte, error) {
	c.record("CodeAt")
	from, ok := c.CodeFrom[address]
	if !ok || blockNumber < from {
		return nil, nil
	}
	return []byte{0x60, 0x80}, nil
}

// CallContract delegates to CallFn; with no CallFn every call reverts.
func (c *Client) CallContract(_ context.Context, to string, data []byte, blockNumber uint64) ([]byte, error) {
	c.record("CallContract")
	if c.CallFn == nil {
		return nil, ethereum.ErrCallReverted
	}
	return c.CallFn(to, data, blockNumber)
}
