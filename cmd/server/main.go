// Package main provides the unified price service:
// - HTTP API (continuous): price resolution, history, backfill scheduling
// - Backfill (scheduled): cron-driven daily history fills for tracked tokens
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jallpatell/token-vitae-beta/internal/backfill"
	"github.com/jallpatell/token-vitae-beta/internal/cache"
	cachememory "github.com/jallpatell/token-vitae-beta/internal/cache/memory"
	cacheredis "github.com/jallpatell/token-vitae-beta/internal/cache/redis"
	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
	"github.com/jallpatell/token-vitae-beta/internal/network"
	"github.com/jallpatell/token-vitae-beta/internal/observability"
	"github.com/jallpatell/token-vitae-beta/internal/resolver"
	"github.com/jallpatell/token-vitae-beta/internal/storage"
	storagememory "github.com/jallpatell/token-vitae-beta/internal/storage/memory"
	"github.com/jallpatell/token-vitae-beta/internal/storage/migrations"
	pgstore "github.com/jallpatell/token-vitae-beta/internal/storage/postgres"
)

// Server holds all components of the price service.
type Server struct {
	resolver *resolver.Resolver
	runner   *backfill.Runner
	store    storage.PriceStore
	cache    cache.PriceCache
	logger   *log.Logger

	// State
	mu              sync.Mutex
	started         time.Time
	lastBackfillRun time.Time
	backfillRuns    int
	backfillRunning map[string]bool // "token:network" -> in flight
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	ethRPC := flag.String("eth-rpc", os.Getenv("ETH_RPC_ENDPOINT"), "Ethereum RPC HTTP endpoint")
	ethWS := flag.String("eth-ws", os.Getenv("ETH_WS_ENDPOINT"), "Ethereum WebSocket endpoint (optional, enables head tracking)")
	polygonRPC := flag.String("polygon-rpc", os.Getenv("POLYGON_RPC_ENDPOINT"), "Polygon RPC HTTP endpoint")
	polygonWS := flag.String("polygon-ws", os.Getenv("POLYGON_WS_ENDPOINT"), "Polygon WebSocket endpoint (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address (empty for in-memory cache)")
	redisPassword := flag.String("redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	httpAddr := flag.String("http-addr", ":8080", "HTTP API address")
	backfillSpec := flag.String("backfill-cron", "0 2 * * *", "Cron spec for scheduled backfills")
	backfillTokens := flag.String("backfill-tokens", os.Getenv("BACKFILL_TOKENS"), "Comma-separated token:network pairs to backfill on schedule")
	batchSize := flag.Int("backfill-batch", backfill.DefaultBatchSize, "Concurrent resolutions per backfill batch")
	batchDelay := flag.Duration("backfill-delay", backfill.DefaultBatchDelay, "Delay between backfill batches")
	timezone := flag.String("backfill-timezone", backfill.DefaultTimezone, "Civil timezone for day boundaries")
	headMaxAge := flag.Duration("head-max-age", 30*time.Second, "Max age of a tracked head before falling back to RPC")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *ethRPC == "" && *polygonRPC == "" {
		logger.Fatal("at least one of --eth-rpc / --polygon-rpc is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Storage
	store, cleanupStore, err := createStore(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create store: %v", err)
	}
	defer cleanupStore()

	// Cache
	priceCache, err := createCache(ctx, *redisAddr, *redisPassword)
	if err != nil {
		logger.Fatalf("Failed to create cache: %v", err)
	}
	defer priceCache.Close()

	// Chain backends
	endpoints := map[domain.Network]struct{ rpc, ws string }{
		domain.NetworkEthereum: {*ethRPC, *ethWS},
		domain.NetworkPolygon:  {*polygonRPC, *polygonWS},
	}
	backends, cleanupChains, err := createBackends(ctx, endpoints, *headMaxAge, logger)
	if err != nil {
		logger.Fatalf("Failed to create chain backends: %v", err)
	}
	defer cleanupChains()

	res := resolver.New(store, priceCache, backends)

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		logger.Fatalf("Invalid timezone %q: %v", *timezone, err)
	}
	runner, err := backfill.NewRunner(res,
		backfill.WithBatchSize(*batchSize),
		backfill.WithBatchDelay(*batchDelay),
		backfill.WithTimezone(loc),
	)
	if err != nil {
		logger.Fatalf("Failed to create backfill runner: %v", err)
	}

	server := &Server{
		resolver:        res,
		runner:          runner,
		store:           store,
		cache:           priceCache,
		logger:          logger,
		started:         time.Now(),
		backfillRunning: make(map[string]bool),
	}

	// Scheduled backfills
	scheduler := cron.New()
	targets := parseBackfillTargets(*backfillTokens, logger)
	if len(targets) > 0 {
		if _, err := scheduler.AddFunc(*backfillSpec, func() { server.runScheduledBackfills(ctx, targets) }); err != nil {
			logger.Fatalf("Invalid cron spec %q: %v", *backfillSpec, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Printf("Scheduled backfill of %d tokens at %q", len(targets), *backfillSpec)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: server.routes(),
	}

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Printf("Starting HTTP server on %s (networks: %s)", *httpAddr, strings.Join(network.Supported(), ", "))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStore creates the price store.
func createStore(ctx context.Context, postgresDSN string, useMemory bool) (storage.PriceStore, func(), error) {
	if useMemory {
		return storagememory.NewPriceStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return pgstore.NewPriceStore(pool), pool.Close, nil
}

// createCache connects to Redis, or falls back to the in-process cache
// when no address is configured.
func createCache(ctx context.Context, addr, password string) (cache.PriceCache, error) {
	if addr == "" {
		return cachememory.New(), nil
	}
	return cacheredis.New(ctx, addr, password, 0)
}

// createBackends wires one chain backend per configured endpoint. A
// WebSocket endpoint upgrades the backend to head tracking so latest-block
// reads skip a round trip.
func createBackends(ctx context.Context, endpoints map[domain.Network]struct{ rpc, ws string }, headMaxAge time.Duration, logger *log.Logger) (map[domain.Network]*resolver.Backend, func(), error) {
	backends := make(map[domain.Network]*resolver.Backend)
	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	for net, ep := range endpoints {
		if ep.rpc == "" {
			continue
		}

		cfg, err := network.ByNetwork(net)
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		var client ethereum.ChainClient = ethereum.NewHTTPClient(ep.rpc)
		if ep.ws != "" {
			tracker, err := ethereum.NewHeadTracker(ctx, ep.ws, nil)
			if err != nil {
				// Head tracking is an optimization; plain RPC still works.
				logger.Printf("Head tracker for %s unavailable, using RPC only: %v", net, err)
			} else {
				cleanups = append(cleanups, tracker.Close)
				client = ethereum.NewTrackingClient(client, tracker, headMaxAge)
			}
		}

		backends[net] = resolver.NewBackend(client, cfg, logger)
	}

	if len(backends) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("no chain backends configured")
	}
	return backends, cleanup, nil
}

// backfillTarget is one token scheduled for recurring backfill.
type backfillTarget struct {
	token   string
	network domain.Network
}

// parseBackfillTargets parses "token:network,token:network" pairs.
func parseBackfillTargets(s string, logger *log.Logger) []backfillTarget {
	var targets []backfillTarget
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			logger.Printf("Skipping malformed backfill target %q (want token:network)", pair)
			continue
		}
		net := domain.Network(strings.ToLower(strings.TrimSpace(parts[1])))
		if !net.Valid() {
			logger.Printf("Skipping backfill target %q: unsupported network", pair)
			continue
		}
		targets = append(targets, backfillTarget{
			token:   domain.NormalizeAddress(parts[0]),
			network: net,
		})
	}
	return targets
}

// runScheduledBackfills fills each target sequentially; one failed token
// never blocks the rest.
func (s *Server) runScheduledBackfills(ctx context.Context, targets []backfillTarget) {
	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		s.startBackfill(ctx, target.token, target.network)
	}
}

// acquireBackfill marks a token as in flight. Returns false when the same
// token is already being filled.
func (s *Server) acquireBackfill(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backfillRunning[key] {
		return false
	}
	s.backfillRunning[key] = true
	return true
}

func (s *Server) releaseBackfill(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backfillRunning, key)
	s.lastBackfillRun = time.Now()
	s.backfillRuns++
}

// startBackfill runs one backfill unless the same token is already in
// flight.
func (s *Server) startBackfill(ctx context.Context, token string, net domain.Network) {
	key := token + ":" + string(net)
	if !s.acquireBackfill(key) {
		s.logger.Printf("Backfill of %s already running, skipping...", key)
		return
	}
	defer s.releaseBackfill(key)

	if _, err := s.runner.Run(ctx, token, net); err != nil {
		s.logger.Printf("Backfill of %s failed: %v", key, err)
	}
}

// routes builds the HTTP API.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/price", s.handlePrice)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/schedule", s.handleSchedule)

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// priceResponse is the JSON response for /api/price.
type priceResponse struct {
	Token     string `json:"token"`
	Network   string `json:"network"`
	Timestamp int64  `json:"timestamp"`
	Price     string `json:"price"`
	Source    string `json:"source"`
}

// handlePrice resolves a single price.
// GET /api/price?token=0x..&network=ethereum&timestamp=1700000000
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		httpError(w, http.StatusBadRequest, "token is required")
		return
	}
	net := domain.Network(strings.ToLower(r.URL.Query().Get("network")))
	ts, err := parseTimestamp(r.URL.Query().Get("timestamp"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "timestamp must be unix seconds")
		return
	}

	record, err := s.resolver.Resolve(r.Context(), token, net, ts)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnsupportedNetwork):
		httpError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrNoPriceData):
		// Distinct from transient upstream trouble: this combination has
		// no derivable price.
		httpError(w, http.StatusNotFound, err.Error())
		return
	default:
		s.logger.Printf("Resolve %s@%d on %s: %v", token, ts, net, err)
		httpError(w, http.StatusServiceUnavailable, "temporarily unable to resolve price, try again later")
		return
	}

	writeJSON(w, priceResponse{
		Token:     record.Token,
		Network:   string(record.Network),
		Timestamp: record.Date,
		Price:     record.Price.String(),
		Source:    string(record.Source),
	})
}

// handleHistory lists stored records in a time range.
// GET /api/history?token=0x..&network=ethereum&from=..&to=..
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		httpError(w, http.StatusBadRequest, "token is required")
		return
	}
	net := domain.Network(strings.ToLower(r.URL.Query().Get("network")))
	if !net.Valid() {
		httpError(w, http.StatusBadRequest, "unsupported network")
		return
	}
	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "from must be unix seconds")
		return
	}
	to, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "to must be unix seconds")
		return
	}

	records, err := s.store.GetByTimeRange(r.Context(), domain.NormalizeAddress(token), net, from, to)
	if err != nil {
		s.logger.Printf("History %s on %s: %v", token, net, err)
		httpError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	out := make([]priceResponse, 0, len(records))
	for _, record := range records {
		out = append(out, priceResponse{
			Token:     record.Token,
			Network:   string(record.Network),
			Timestamp: record.Date,
			Price:     record.Price.String(),
			Source:    string(record.Source),
		})
	}
	writeJSON(w, out)
}

// scheduleRequest is the JSON body for /api/schedule.
type scheduleRequest struct {
	Token   string `json:"token"`
	Network string `json:"network"`
}

// handleSchedule kicks off an asynchronous backfill.
// POST /api/schedule {"token": "0x..", "network": "ethereum"}
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		httpError(w, http.StatusBadRequest, "token is required")
		return
	}
	net := domain.Network(strings.ToLower(req.Network))
	if !net.Valid() {
		httpError(w, http.StatusBadRequest, "unsupported network")
		return
	}

	token := domain.NormalizeAddress(req.Token)
	key := token + ":" + string(net)
	if !s.acquireBackfill(key) {
		httpError(w, http.StatusConflict, "backfill already running for this token")
		return
	}

	// Detached from the request context: the fill outlives the HTTP call.
	go func() {
		defer s.releaseBackfill(key)
		if _, err := s.runner.Run(context.Background(), token, net); err != nil {
			s.logger.Printf("Backfill of %s failed: %v", key, err)
		}
	}()

	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"status":  "scheduled",
		"token":   token,
		"network": string(net),
	})
}

// handleHealth reports liveness plus cache connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Ping(r.Context()); err != nil {
		// A degraded cache is not fatal; report it without failing the
		// check.
		writeJSON(w, map[string]string{"status": "ok", "cache": "down"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "cache": "up"})
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string    `json:"status"`
	Uptime          string    `json:"uptime"`
	Networks        []string  `json:"networks"`
	LastBackfillRun time.Time `json:"last_backfill_run,omitempty"`
	BackfillRuns    int       `json:"backfill_runs"`
	BackfillsActive int       `json:"backfills_active"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.started).String(),
		Networks:        network.Supported(),
		LastBackfillRun: s.lastBackfillRun,
		BackfillRuns:    s.backfillRuns,
		BackfillsActive: len(s.backfillRunning),
	})
}

// parseTimestamp reads a unix timestamp, flooring fractional seconds.
func parseTimestamp(s string) (int64, error) {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(f)), nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeJSONStatus sets the Content-Type before the status line goes out.
func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
