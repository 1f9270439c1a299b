package coordinator

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"pegcrawler/internal/fetcher"
	"pegcrawler/internal/ratelimit"
	"pegcrawler/internal/schedule"
	"pegcrawler/internal/snapshot"
	"pegcrawler/internal/testutil"
	"pegcrawler/internal/universe"
)

var runDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	coord *Coordinator
	clock *testutil.FakeClock
}

func newHarness(t *testing.T, tickers []string, p fetcher.Provider, cfg schedule.Config) harness {
	t.Helper()

	clock := testutil.NewFakeClock(runDate)
	limiter := ratelimit.New(cfg.PerItemDelay, clock)
	u := universe.New(tickers)

	s, err := schedule.New(cfg, u)
	if err != nil {
		t.Fatalf("schedule.New() returned unexpected error: %v", err)
	}
	f, err := fetcher.New(fetcher.DefaultConfig(), p, limiter, nil)
	if err != nil {
		t.Fatalf("fetcher.New() returned unexpected error: %v", err)
	}

	return harness{coord: New(u, s, f, limiter, nil), clock: clock}
}

func TestRun_EndToEnd(t *testing.T) {
	p := testutil.NewMockProvider(
		map[string]snapshot.Raw{
			"AAA": testutil.FullSnapshot(map[string]any{
				"currentPrice":   100.0,
				"trailingPE":     10.0,
				"earningsGrowth": 0.2,
			}),
		},
		map[string]error{
			"BBB": errors.New("connection reset"),
		},
	)
	h := newHarness(t, []string{"bbb", "AAA"}, p, schedule.DefaultConfig())

	result, err := h.coord.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	s := result.Summary()
	if s.Total != 2 || s.Success != 1 || s.Failure != 1 || s.Skipped != 0 {
		t.Errorf("Summary() = %+v, want total 2, success 1, failure 1", s)
	}

	records := result.Records()
	if len(records) != 1 {
		t.Fatalf("Records() len = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Ticker != "AAA" {
		t.Errorf("Ticker = %q, want AAA", rec.Ticker)
	}
	if rec.PEGRatio == nil || *rec.PEGRatio != 0.5 {
		t.Errorf("PEGRatio = %v, want 0.5", rec.PEGRatio)
	}
	if !rec.PEGDerived {
		t.Error("PEGDerived = false, want true")
	}

	if got := p.CallCount("BBB"); got != fetcher.DefaultMaxAttempts {
		t.Errorf("BBB calls = %d, want %d", got, fetcher.DefaultMaxAttempts)
	}
	if _, ok := result.Archive()["BBB"]; ok {
		t.Error("BBB archived, want only fetched snapshots")
	}

	failures := result.Failures()
	if len(failures) != 1 || failures[0].Ticker != "BBB" {
		t.Errorf("Failures() = %+v, want one for BBB", failures)
	}

	// AAA starts immediately. BBB waits one item interval, then each failure
	// backs off 2s, which also covers the next item interval.
	want := []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}
	if got := h.clock.Sleeps(); !slices.Equal(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestRun_BatchPause(t *testing.T) {
	snaps := map[string]snapshot.Raw{}
	for _, tk := range []string{"A", "B", "C"} {
		snaps[tk] = testutil.FullSnapshot(map[string]any{"currentPrice": 1.0})
	}
	p := testutil.NewMockProvider(snaps, nil)
	cfg := schedule.Config{BatchSize: 2, PerItemDelay: 0, PerBatchDelay: 5 * time.Second}
	h := newHarness(t, []string{"A", "B", "C"}, p, cfg)

	result, err := h.coord.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	if got := result.Summary().Success; got != 3 {
		t.Errorf("Success = %d, want 3", got)
	}
	if got, want := h.clock.Sleeps(), []time.Duration{5 * time.Second}; !slices.Equal(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
	if got, want := p.Calls(), []string{"A", "B", "C"}; !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestRun_SingleBatchNeverPausesBetweenBatches(t *testing.T) {
	p := testutil.NewMockProvider(map[string]snapshot.Raw{
		"A": testutil.FullSnapshot(map[string]any{"currentPrice": 1.0}),
		"B": testutil.FullSnapshot(map[string]any{"currentPrice": 2.0}),
	}, nil)
	cfg := schedule.Config{BatchSize: 10, PerItemDelay: 0, PerBatchDelay: 5 * time.Second}
	h := newHarness(t, []string{"A", "B"}, p, cfg)

	if _, err := h.coord.Run(context.Background(), runDate); err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if got := h.clock.Sleeps(); len(got) != 0 {
		t.Errorf("sleeps = %v, want none", got)
	}
}

func TestRun_CancelRecordsInFlightItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &testutil.MockProvider{
		SnapshotFunc: func(_ context.Context, ticker string) (snapshot.Raw, error) {
			if ticker == "B" {
				cancel()
			}
			return testutil.FullSnapshot(map[string]any{"currentPrice": 1.0}), nil
		},
	}
	cfg := schedule.Config{BatchSize: 5, PerItemDelay: 0, PerBatchDelay: 0}
	h := newHarness(t, []string{"A", "B", "C"}, p, cfg)

	result, err := h.coord.Run(ctx, runDate)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	s := result.Summary()
	if s.Success+s.Failure != 2 {
		t.Errorf("success+failure = %d, want 2 (A and in-flight B)", s.Success+s.Failure)
	}
	if s.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", s.Skipped)
	}
	if got := p.CallCount("C"); got != 0 {
		t.Errorf("C calls = %d, want 0", got)
	}
}

func TestRun_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testutil.NewMockProvider(nil, nil)
	h := newHarness(t, []string{"A", "B"}, p, schedule.DefaultConfig())

	result, err := h.coord.Run(ctx, runDate)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if got := result.Summary().Skipped; got != 2 {
		t.Errorf("Skipped = %d, want 2", got)
	}
	if got := len(p.Calls()); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func TestRun_EmptyUniverse(t *testing.T) {
	p := testutil.NewMockProvider(nil, nil)
	h := newHarness(t, nil, p, schedule.DefaultConfig())

	result, err := h.coord.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if s := result.Summary(); s.Total != 0 || s.Success != 0 {
		t.Errorf("Summary() = %+v, want all zero", s)
	}
}

func TestRun_NotAdmittedCountsAsFailure(t *testing.T) {
	p := testutil.NewMockProvider(map[string]snapshot.Raw{
		"A": testutil.FullSnapshot(nil),
	}, nil)
	h := newHarness(t, []string{"A"}, p, schedule.DefaultConfig())

	result, err := h.coord.Run(context.Background(), runDate)
	if err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}

	if s := result.Summary(); s.Success != 0 || s.Failure != 1 {
		t.Errorf("Summary() = %+v, want success 0, failure 1", s)
	}
	if len(result.Records()) != 0 {
		t.Errorf("Records() = %v, want none", result.Records())
	}
	if _, ok := result.Archive()["A"]; !ok {
		t.Error("A not archived, want fetched snapshot kept")
	}
}
