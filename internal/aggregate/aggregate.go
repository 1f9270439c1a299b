package aggregate

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"pegcrawler/internal/normalize"
	"pegcrawler/internal/snapshot"
	"pegcrawler/internal/universe"
)

var (
	// ErrFinalized is returned by Record once Finalize has been called.
	ErrFinalized = errors.New("aggregator already finalized")
	// ErrDuplicate is returned when a ticker is recorded twice.
	ErrDuplicate = errors.New("ticker already recorded")
	// ErrUnknownTicker is returned for tickers outside the universe.
	ErrUnknownTicker = errors.New("ticker not in universe")
)

// reasonNotAdmitted is the failure reason for a fetched snapshot without
// any priced or valuation field.
const reasonNotAdmitted = "no price, trailing P/E or PEG in snapshot"

// Outcome is the result of processing one ticker. Snapshot is set whenever
// a valid snapshot was fetched; Record is set when it was normalized; Err
// is set when the fetch failed.
type Outcome struct {
	Record   *normalize.Record
	Snapshot snapshot.Raw
	Err      error
}

// Failure records why a ticker produced no row.
type Failure struct {
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

// Summary holds the run counters.
type Summary struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	Skipped     int     `json:"skipped"` // not processed, only non-zero after cancellation
	SuccessRate float64 `json:"success_rate"`
}

// Aggregator accumulates per-ticker outcomes for one run. It is owned by
// the single run worker and is not safe for concurrent use.
type Aggregator struct {
	universe  universe.Universe
	records   []normalize.Record
	archive   map[string]snapshot.Raw
	failures  []Failure
	seen      map[string]struct{}
	success   int
	failure   int
	finalized bool
}

// New creates an empty Aggregator for u.
func New(u universe.Universe) *Aggregator {
	return &Aggregator{
		universe: u,
		archive:  make(map[string]snapshot.Raw),
		seen:     make(map[string]struct{}, u.Len()),
	}
}

// Record stores the outcome for ticker. Every fetched snapshot is archived;
// only admitted records become rows. Exactly one of the success or failure
// counters is incremented per call.
func (a *Aggregator) Record(ticker string, out Outcome) error {
	if a.finalized {
		return ErrFinalized
	}
	if !a.universe.Contains(ticker) {
		return fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	if _, ok := a.seen[ticker]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, ticker)
	}
	a.seen[ticker] = struct{}{}

	if out.Snapshot != nil {
		a.archive[ticker] = out.Snapshot
	}

	switch {
	case out.Err != nil:
		a.fail(ticker, out.Err.Error())
	case out.Record == nil || !out.Record.Admitted():
		a.fail(ticker, reasonNotAdmitted)
	default:
		a.records = append(a.records, *out.Record)
		a.success++
	}
	return nil
}

func (a *Aggregator) fail(ticker, reason string) {
	a.failures = append(a.failures, Failure{Ticker: ticker, Reason: reason})
	a.failure++
}

// Finalize freezes the aggregator and returns the read-only result.
func (a *Aggregator) Finalize() *RunResult {
	a.finalized = true

	total := a.universe.Len()
	s := Summary{
		Total:   total,
		Success: a.success,
		Failure: a.failure,
		Skipped: total - a.success - a.failure,
	}
	if total > 0 {
		s.SuccessRate = float64(a.success) / float64(total)
	}

	return &RunResult{
		records:  slices.Clone(a.records),
		archive:  maps.Clone(a.archive),
		failures: slices.Clone(a.failures),
		summary:  s,
	}
}

// RunResult is the finalized output of a run.
type RunResult struct {
	records  []normalize.Record
	archive  map[string]snapshot.Raw
	failures []Failure
	summary  Summary
}

// Records returns the admitted records in universe order.
func (r *RunResult) Records() []normalize.Record {
	return slices.Clone(r.records)
}

// Archive returns the raw snapshot of every successfully fetched ticker,
// admitted or not.
func (r *RunResult) Archive() map[string]snapshot.Raw {
	return maps.Clone(r.archive)
}

// Failures returns the tickers that produced no row, with reasons.
func (r *RunResult) Failures() []Failure {
	return slices.Clone(r.failures)
}

// Summary returns the run counters.
func (r *RunResult) Summary() Summary {
	return r.summary
}

// TopPEG returns up to n records with a PEG ratio, lowest first. Ties keep
// universe order.
func (r *RunResult) TopPEG(n int) []normalize.Record {
	var withPEG []normalize.Record
	for _, rec := range r.records {
		if rec.PEGRatio != nil {
			withPEG = append(withPEG, rec)
		}
	}
	slices.SortStableFunc(withPEG, func(a, b normalize.Record) int {
		return cmp.Compare(*a.PEGRatio, *b.PEGRatio)
	})
	if n >= 0 && len(withPEG) > n {
		withPEG = withPEG[:n]
	}
	return withPEG
}
