package backfill

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jallpatell/token-vitae-beta/internal/domain"
	"github.com/jallpatell/token-vitae-beta/internal/locator"
	"github.com/jallpatell/token-vitae-beta/internal/observability"
	"github.com/jallpatell/token-vitae-beta/internal/resolver"
)

const (
	// DefaultBatchSize bounds how many days resolve concurrently.
	DefaultBatchSize = 15

	// DefaultBatchDelay is the pause between batches, protecting the
	// upstream RPC provider from burst traffic.
	DefaultBatchDelay = 1 * time.Second
)

// Result summarizes one backfill run.
type Result struct {
	Token    string
	Network  domain.Network
	Creation int64
	Total    int
	Filled   int
	Failed   int
	Duration time.Duration
}

// Runner fills the daily price history of a token. Per-day failures
// are logged and skipped; only creation lookup failures and context
// cancellation abort a run.
type Runner struct {
	resolver  *resolver.Resolver
	batchSize int
	limiter   *rate.Limiter
	timezone  *time.Location
	logger    *log.Logger
	now       func() time.Time
}

type Option func(*Runner)

// WithBatchSize overrides the per-batch concurrency bound.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBatchDelay overrides the inter-batch pacing.
func WithBatchDelay(d time.Duration) Option {
	return func(r *Runner) {
		r.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithTimezone overrides the civil timezone for day boundaries.
func WithTimezone(loc *time.Location) Option {
	return func(r *Runner) {
		r.timezone = loc
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(res *resolver.Resolver, opts ...Option) (*Runner, error) {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", DefaultTimezone, err)
	}

	r := &Runner{
		resolver:  res,
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Every(DefaultBatchDelay), 1),
		timezone:  loc,
		logger:    log.New(os.Stdout, "[BACKFILL] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run backfills the full daily history for token on net: find the
// contract creation block, generate the day grid, then resolve in
// fixed-size concurrent batches with a delay between batches.
func (r *Runner) Run(ctx context.Context, token string, net domain.Network) (*Result, error) {
	start := time.Now()

	backend, err := r.resolver.Backend(net)
	if err != nil {
		return nil, err
	}

	creationLocator := locator.NewCreationLocator(backend.Client, r.logger)
	creation, err := creationLocator.FindCreationBlock(ctx, token)
	if err != nil {
		observability.RecordBackfillRun("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to locate creation of %s: %w", token, err)
	}

	days := DailyTimestamps(creation.Timestamp, r.timezone, r.now())
	r.logger.Printf("Backfilling %s on %s: %d days since block %d", token, net, len(days), creation.Number)

	result := &Result{
		Token:    token,
		Network:  net,
		Creation: creation.Timestamp,
		Total:    len(days),
	}

	var filled, failed atomic.Int64
	for i := 0; i < len(days); i += r.batchSize {
		if i > 0 {
			if err := r.limiter.Wait(ctx); err != nil {
				observability.RecordBackfillRun("canceled", time.Since(start).Seconds())
				return nil, err
			}
		}

		batch := days[i:min(i+r.batchSize, len(days))]

		var wg sync.WaitGroup
		for _, day := range batch {
			wg.Add(1)
			go func(ts int64) {
				defer wg.Done()
				if _, err := r.resolver.Resolve(ctx, token, net, ts); err != nil {
					r.logger.Printf("Skipping day %d for %s on %s: %v", ts, token, net, err)
					observability.RecordBackfillDay(false)
					failed.Add(1)
					return
				}
				observability.RecordBackfillDay(true)
				filled.Add(1)
			}(day)
		}
		wg.Wait()

		if ctx.Err() != nil {
			observability.RecordBackfillRun("canceled", time.Since(start).Seconds())
			return nil, ctx.Err()
		}
	}

	result.Filled = int(filled.Load())
	result.Failed = int(failed.Load())
	result.Duration = time.Since(start)

	observability.RecordBackfillRun("ok", result.Duration.Seconds())
	observability.DefaultMetrics.LastSuccessfulBackfill.SetToCurrentTime()

	r.logger.Printf("Backfill of %s on %s complete: %d filled, %d failed in %s",
		token, net, result.Filled, result.Failed, result.Duration.Round(time.Millisecond))
	return result, nil
}
