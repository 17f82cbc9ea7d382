package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jallpatell/token-vitae-beta/internal/observability"
)

// HeadTrackerConfig configures WebSocket head tracking behavior.
type HeadTrackerConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHeadTrackerConfig returns default head tracker configuration.
func DefaultHeadTrackerConfig() HeadTrackerConfig {
	return HeadTrackerConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// HeadTracker subscribes to newHeads over WebSocket and keeps the most
// recent block header, so the block search can seed its upper bound
// without an extra HTTP round trip.
type HeadTracker struct {
	endpoint string
	config   HeadTrackerConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	head atomic.Pointer[trackedHead]
	done chan struct{}
	wg   sync.WaitGroup
}

type trackedHead struct {
	block Block
	seen  time.Time
}

// NewHeadTracker connects to the WebSocket endpoint and starts tracking.
func NewHeadTracker(ctx context.Context, endpoint string, config *HeadTrackerConfig) (*HeadTracker, error) {
	cfg := DefaultHeadTrackerConfig()
	if config != nil {
		cfg = *config
	}

	t := &HeadTracker{
		endpoint: endpoint,
		config:   cfg,
		done:     make(chan struct{}),
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	if err := t.subscribe(); err != nil {
		t.closeConn()
		return nil, err
	}

	t.wg.Add(1)
	go t.readLoop()

	t.wg.Add(1)
	go t.pingLoop()

	return t, nil
}

// connect establishes the WebSocket connection.
func (t *HeadTracker) connect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	t.conn = conn
	return nil
}

// subscribe sends the eth_subscribe newHeads request.
func (t *HeadTracker) subscribe() error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      t.requestID.Add(1),
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := t.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}
	return nil
}

// wsMessage covers both subscription confirmations and notifications.
type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *wsParams       `json:"params"`
	Error  *rpcError       `json:"error"`
}

type wsParams struct {
	Result rpcBlock `json:"result"`
}

// readLoop consumes messages until shutdown, reconnecting on read errors.
func (t *HeadTracker) readLoop() {
	defer t.wg.Done()

	delay := t.config.ReconnectDelay
	for {
		select {
		case <-t.done:
			return
		default:
		}

		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			// Reconnect with backoff, then resubscribe
			select {
			case <-t.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > t.config.MaxReconnectDelay {
				delay = t.config.MaxReconnectDelay
			}
			if err := t.connect(context.Background()); err != nil {
				continue
			}
			if err := t.subscribe(); err != nil {
				continue
			}
			delay = t.config.ReconnectDelay
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Method != "eth_subscription" || msg.Params == nil {
			continue
		}

		block, err := msg.Params.Result.toBlock()
		if err != nil {
			continue
		}
		now := time.Now()
		t.head.Store(&trackedHead{block: *block, seen: now})
		observability.UpdateHeadLag(now.Sub(time.Unix(block.Timestamp, 0)).Seconds())
	}
}

// pingLoop keeps the connection alive.
func (t *HeadTracker) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.connMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			t.conn.WriteMessage(websocket.PingMessage, nil)
			t.connMu.Unlock()
		}
	}
}

// Head returns the most recently seen block header and when it arrived.
// ok is false until the first notification lands.
func (t *HeadTracker) Head() (Block, time.Time, bool) {
	h := t.head.Load()
	if h == nil {
		return Block{}, time.Time{}, false
	}
	return h.block, h.seen, true
}

// Close stops tracking and closes the connection.
func (t *HeadTracker) Close() {
	if t.closed.Swap(true) {
		return
	}
	close(t.done)
	t.closeConn()
	t.wg.Wait()
}

func (t *HeadTracker) closeConn() {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
}

// TrackingClient serves LatestBlock from a HeadTracker when its head is
// fresh enough, delegating everything else (and stale heads) to the
// underlying client.
type TrackingClient struct {
	ChainClient
	tracker *HeadTracker
	maxAge  time.Duration
}

// NewTrackingClient wraps client with head-tracker-backed LatestBlock.
func NewTrackingClient(client ChainClient, tracker *HeadTracker, maxAge time.Duration) *TrackingClient {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &TrackingClient{ChainClient: client, tracker: tracker, maxAge: maxAge}
}

// LatestBlock returns the tracked head if fresh, else falls back to HTTP.
func (c *TrackingClient) LatestBlock(ctx context.Context) (*Block, error) {
	if block, seen, ok := c.tracker.Head(); ok && time.Since(seen) <= c.maxAge {
		b := block
		return &b, nil
	}
	return c.ChainClient.LatestBlock(ctx)
}
