// Package main provides the one-shot backfill CLI: resolve a daily price
// for every day of a token's life and persist the results.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jallpatell/token-vitae-beta/internal/backfill"
	cachememory "github.com/jallpatell/token-vitae-beta/internal/cache/memory"
	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/ethereum"
	"github.com/jallpatell/token-vitae-beta/internal/network"
	"github.com/jallpatell/token-vitae-beta/internal/resolver"
	"github.com/jallpatell/token-vitae-beta/internal/storage/migrations"
	pgstore "github.com/jallpatell/token-vitae-beta/internal/storage/postgres"
)

func main() {
	token := flag.String("token", "", "Token contract address (required)")
	networkName := flag.String("network", "ethereum", "Network name (ethereum, polygon)")
	rpcEndpoint := flag.String("rpc", os.Getenv("RPC_ENDPOINT"), "Chain RPC HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	batchSize := flag.Int("batch", backfill.DefaultBatchSize, "Concurrent resolutions per batch")
	batchDelay := flag.Duration("delay", backfill.DefaultBatchDelay, "Delay between batches")
	timezone := flag.String("timezone", backfill.DefaultTimezone, "Civil timezone for day boundaries")

	flag.Parse()

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags)

	if *token == "" {
		logger.Fatal("--token is required")
	}
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc is required (or set RPC_ENDPOINT)")
	}
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (or set POSTGRES_DSN)")
	}

	net := domain.Network(strings.ToLower(*networkName))
	cfg, err := network.ByNetwork(net)
	if err != nil {
		logger.Fatalf("Unsupported network %q (supported: %s)", *networkName, strings.Join(network.Supported(), ", "))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	client := ethereum.NewHTTPClient(*rpcEndpoint)
	backends := map[domain.Network]*resolver.Backend{
		net: resolver.NewBackend(client, cfg, logger),
	}

	res := resolver.New(pgstore.NewPriceStore(pool), cachememory.New(), backends)

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		logger.Fatalf("Invalid timezone %q: %v", *timezone, err)
	}
	runner, err := backfill.NewRunner(res,
		backfill.WithBatchSize(*batchSize),
		backfill.WithBatchDelay(*batchDelay),
		backfill.WithTimezone(loc),
		backfill.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("Failed to create runner: %v", err)
	}

	result, err := runner.Run(ctx, *token, net)
	if err != nil {
		logger.Fatalf("Backfill failed: %v", err)
	}

	logger.Printf("Backfill complete: token=%s network=%s creation=%d days=%d filled=%d failed=%d took=%s",
		result.Token, result.Network, result.Creation, result.Total, result.Filled, result.Failed, result.Duration)
	if result.Failed > 0 {
		os.Exit(1)
	}
}
