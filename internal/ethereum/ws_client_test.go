package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// headServer upgrades to WebSocket, acknowledges the newHeads
// subscription, and pushes the given headers as notifications.
func headServer(t *testing.T, heads ...Block) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "eth_subscribe" {
			t.Errorf("expected eth_subscribe, got %s", req.Method)
			return
		}
		if len(req.Params) != 1 || req.Params[0] != "newHeads" {
			t.Errorf("expected newHeads params, got %v", req.Params)
			return
		}

		conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0xsub1",
		})

		for _, head := range heads {
			conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params": map[string]interface{}{
					"subscription": "0xsub1",
					"result": map[string]string{
						"number":    fmt.Sprintf("0x%x", head.Number),
						"timestamp": fmt.Sprintf("0x%x", head.Timestamp),
					},
				},
			})
		}

		// Keep connection open
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHeadTracker_Connect(t *testing.T) {
	server := headServer(t)
	defer server.Close()

	tracker, err := NewHeadTracker(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewHeadTracker: %v", err)
	}
	defer tracker.Close()

	if _, _, ok := tracker.Head(); ok {
		t.Error("expected no head before first notification")
	}
}

func TestHeadTracker_ReceivesHeads(t *testing.T) {
	server := headServer(t,
		Block{Number: 100, Timestamp: 1700000000},
		Block{Number: 101, Timestamp: 1700000012},
	)
	defer server.Close()

	tracker, err := NewHeadTracker(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewHeadTracker: %v", err)
	}
	defer tracker.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		head, seen, ok := tracker.Head()
		if ok && head.Number == 101 {
			if head.Timestamp != 1700000012 {
				t.Errorf("expected timestamp 1700000012, got %d", head.Timestamp)
			}
			if seen.IsZero() {
				t.Error("expected non-zero seen time")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("head never reached 101 (ok=%v head=%+v)", ok, head)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHeadTracker_DialFailure(t *testing.T) {
	_, err := NewHeadTracker(context.Background(), "ws://127.0.0.1:1", nil)
	if err == nil {
		t.Fatal("expected dial error")
	}
}

// fixedLatest is a ChainClient whose LatestBlock is a canned value, for
// observing TrackingClient fallback.
type fixedLatest struct {
	ChainClient
	block Block
	calls int
}

func (f *fixedLatest) LatestBlock(ctx context.Context) (*Block, error) {
	f.calls++
	b := f.block
	return &b, nil
}

func TestTrackingClient_ServesFreshHead(t *testing.T) {
	server := headServer(t, Block{Number: 200, Timestamp: 1700000000})
	defer server.Close()

	tracker, err := NewHeadTracker(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewHeadTracker: %v", err)
	}
	defer tracker.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, ok := tracker.Head(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("head never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}

	fallback := &fixedLatest{block: Block{Number: 999}}
	client := NewTrackingClient(fallback, tracker, time.Minute)

	block, err := client.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("LatestBlock: %v", err)
	}
	if block.Number != 200 {
		t.Errorf("expected tracked head 200, got %d", block.Number)
	}
	if fallback.calls != 0 {
		t.Errorf("expected no fallback calls, got %d", fallback.calls)
	}
}

func TestTrackingClient_FallsBackWhenStale(t *testing.T) {
	server := headServer(t, Block{Number: 200, Timestamp: 1700000000})
	defer server.Close()

	tracker, err := NewHeadTracker(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewHeadTracker: %v", err)
	}
	defer tracker.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, ok := tracker.Head(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("head never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}

	fallback := &fixedLatest{block: Block{Number: 999}}
	client := NewTrackingClient(fallback, tracker, time.Nanosecond)

	time.Sleep(time.Millisecond)

	block, err := client.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("LatestBlock: %v", err)
	}
	if block.Number != 999 {
		t.Errorf("expected fallback block 999, got %d", block.Number)
	}
	if fallback.calls != 1 {
		t.Errorf("expected one fallback call, got %d", fallback.calls)
	}
}

func TestTrackingClient_FallsBackBeforeFirstHead(t *testing.T) {
	server := headServer(t)
	defer server.Close()

	tracker, err := NewHeadTracker(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewHeadTracker: %v", err)
	}
	defer tracker.Close()

	fallback := &fixedLatest{block: Block{Number: 50}}
	client := NewTrackingClient(fallback, tracker, time.Minute)

	block, err := client.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("LatestBlock: %v", err)
	}
	if block.Number != 50 {
		t.Errorf("expected fallback block 50, got %d", block.Number)
	}
}
