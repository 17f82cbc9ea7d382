package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jallpatell/token-vitae-beta/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Errors surfaced by the client. ErrCallReverted marks a node-side
// execution revert (e.g. a nonexistent oracle round); ErrUnavailable marks
// transport exhaustion after retries.
var (
	ErrCallReverted = errors.New("execution reverted")
	ErrUnavailable  = errors.New("rpc unavailable")
)

// HTTPClient implements ChainClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Ethereum JSON-RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ChainClient = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Node-side RPC errors are returned immediately; transport failures are
// retried until maxRetries and then wrapped in ErrUnavailable.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// Node-side errors (reverts, invalid params) are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("%w: max retries exceeded: %v", ErrUnavailable, lastErr)
}

// rpcBlock is the raw eth_getBlockByNumber result.
type rpcBlock struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

func (b *rpcBlock) toBlock() (*Block, error) {
	number, err := HexToUint64(b.Number)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	ts, err := HexToUint64(b.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block timestamp: %w", err)
	}
	return &Block{Number: number, Timestamp: int64(ts)}, nil
}

// LatestBlock returns the most recent block.
func (c *HTTPClient) LatestBlock(ctx context.Context) (*Block, error) {
	var result *rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{"latest", false}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("node returned no latest block")
	}
	return result.toBlock()
}

// BlockByNumber returns the block at the given height, or (nil, nil) if
// the node has no block at that height.
func (c *HTTPClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var result *rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{Uint64ToHex(number), false}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.toBlock()
}

// CodeAt returns the contract bytecode at the address as of the given
// block. blockNumber 0 means latest.
func (c *HTTPClient) CodeAt(ctx context.Context, address string, blockNumber uint64) ([]byte, error) {
	var result string
	if err := c.call(ctx, "eth_getCode", []interface{}{address, blockTag(blockNumber)}, &result); err != nil {
		return nil, err
	}
	code, err := HexToBytes(result)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	return code, nil
}

// CallContract performs a read-only eth_call. Node-side errors are mapped
// to ErrCallReverted so callers can treat missing rounds and nonexistent
// contracts as absence rather than upstream trouble.
func (c *HTTPClient) CallContract(ctx context.Context, to string, data []byte, blockNumber uint64) ([]byte, error) {
	params := []interface{}{
		map[string]string{"to": to, "data": BytesToHex(data)},
		blockTag(blockNumber),
	}

	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %s", ErrCallReverted, rpcErr.Message)
		}
		return nil, err
	}

	out, err := HexToBytes(result)
	if err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	return out, nil
}

func blockTag(number uint64) string {
	if number == 0 {
		return "latest"
	}
	return Uint64ToHex(number)
}
