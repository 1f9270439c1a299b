package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pegcrawler/internal/aggregate"
	"pegcrawler/internal/fetcher"
	"pegcrawler/internal/normalize"
	"pegcrawler/internal/schedule"
	"pegcrawler/internal/universe"
)

// topN is how many lowest-PEG records are logged at the end of a run.
const topN = 5

// Coordinator runs one pass over the universe: fetch, normalize and
// aggregate every ticker, batch by batch. Work is strictly sequential; the
// fetcher paces provider requests and the coordinator adds the gap between
// batches.
type Coordinator struct {
	universe  universe.Universe
	scheduler *schedule.Scheduler
	fetcher   *fetcher.Fetcher
	pacer     fetcher.Pacer
	logger    *slog.Logger
}

// New creates a new Coordinator. pacer performs the between-batch pause and
// is normally the same limiter the fetcher uses.
func New(u universe.Universe, s *schedule.Scheduler, f *fetcher.Fetcher, pacer fetcher.Pacer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		universe:  u,
		scheduler: s,
		fetcher:   f,
		pacer:     pacer,
		logger:    logger,
	}
}

// Run processes the whole universe and returns the finalized result.
//
// Cancellation is observed between items and during pauses. The outcome of
// a ticker already being fetched is always recorded first; Run then returns
// the partial result together with ctx.Err(). Per-ticker failures never
// make Run fail.
func (c *Coordinator) Run(ctx context.Context, runDate time.Time) (*aggregate.RunResult, error) {
	logger := c.logger.With("run_id", uuid.NewString())
	agg := aggregate.New(c.universe)

	if c.universe.Len() == 0 {
		logger.Warn("ticker universe is empty, nothing to fetch")
		return c.finish(logger, agg), nil
	}

	batches := c.scheduler.NumBatches()
	logger.Info("starting run",
		"provider", c.fetcher.Provider().Name(),
		"tickers", c.universe.Len(),
		"batches", batches,
		"run_date", runDate.Format(time.DateOnly))

	for i, batch := range c.scheduler.Batches() {
		if i > 0 {
			if err := c.pacer.Pause(ctx, c.scheduler.Config().PerBatchDelay); err != nil {
				return c.abort(ctx, logger, agg)
			}
		}

		logger.Info("processing batch",
			"batch", i+1,
			"of", batches,
			"tickers", batch)

		for _, ticker := range batch {
			if ctx.Err() != nil {
				return c.abort(ctx, logger, agg)
			}

			out := c.process(ctx, logger, ticker, runDate)
			if err := agg.Record(ticker, out); err != nil {
				return c.finish(logger, agg), fmt.Errorf("record %s: %w", ticker, err)
			}
		}
	}

	return c.finish(logger, agg), nil
}

// process fetches and normalizes a single ticker.
func (c *Coordinator) process(ctx context.Context, logger *slog.Logger, ticker string, runDate time.Time) aggregate.Outcome {
	att, err := c.fetcher.Fetch(ctx, ticker)
	if err != nil {
		logger.Warn("ticker failed",
			"ticker", ticker,
			"attempts", att.Attempts,
			"error", err)
		return aggregate.Outcome{Err: err}
	}

	rec := normalize.Normalize(ticker, att.Snapshot, runDate)
	if !rec.Admitted() {
		logger.Warn("ticker has no price or valuation fields",
			"ticker", ticker,
			"fields", att.Snapshot.Len())
	} else {
		logger.Info("ticker fetched",
			"ticker", ticker,
			"company", rec.CompanyName,
			"attempts", att.Attempts,
			"peg_derived", rec.PEGDerived)
	}

	return aggregate.Outcome{Record: &rec, Snapshot: att.Snapshot}
}

func (c *Coordinator) abort(ctx context.Context, logger *slog.Logger, agg *aggregate.Aggregator) (*aggregate.RunResult, error) {
	logger.Warn("run canceled", "error", ctx.Err())
	return c.finish(logger, agg), ctx.Err()
}

func (c *Coordinator) finish(logger *slog.Logger, agg *aggregate.Aggregator) *aggregate.RunResult {
	result := agg.Finalize()
	s := result.Summary()

	logger.Info("run finished",
		"total", s.Total,
		"success", s.Success,
		"failure", s.Failure,
		"skipped", s.Skipped,
		"success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100))

	for rank, rec := range result.TopPEG(topN) {
		logger.Info("lowest PEG",
			"rank", rank+1,
			"ticker", rec.Ticker,
			"company", rec.CompanyName,
			"peg", fmt.Sprintf("%.2f", *rec.PEGRatio))
	}

	return result
}
