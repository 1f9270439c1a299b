package trigger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pegcrawler/internal/aggregate"
	"pegcrawler/internal/normalize"
	"pegcrawler/internal/persist"
	"pegcrawler/internal/snapshot"
	"pegcrawler/internal/testutil"
	"pegcrawler/internal/universe"
)

var runDate = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return runDate }

type fakeRunner struct {
	result *aggregate.RunResult
	err    error
}

func (r fakeRunner) Run(ctx context.Context, _ time.Time) (*aggregate.RunResult, error) {
	return r.result, r.err
}

type fakePersister struct {
	calls int
	paths persist.Paths
	err   error
}

func (p *fakePersister) Write(*aggregate.RunResult, time.Time) (persist.Paths, error) {
	p.calls++
	return p.paths, p.err
}

// resultWith builds a finalized result where each ticker in priced gets a
// row and every other ticker fails.
func resultWith(t *testing.T, tickers []string, priced ...string) *aggregate.RunResult {
	t.Helper()
	agg := aggregate.New(universe.New(tickers))
	for _, tk := range tickers {
		out := aggregate.Outcome{Err: errors.New("exhausted")}
		for _, p := range priced {
			if p == tk {
				raw := testutil.FullSnapshot(map[string]any{snapshot.FieldCurrentPrice: 10.0})
				rec := normalize.Normalize(tk, raw, runDate)
				out = aggregate.Outcome{Record: &rec, Snapshot: raw}
			}
		}
		if err := agg.Record(tk, out); err != nil {
			t.Fatalf("Record(%s) returned unexpected error: %v", tk, err)
		}
	}
	return agg.Finalize()
}

func TestCrawlStep_Success(t *testing.T) {
	w := &fakePersister{paths: persist.Paths{Table: "t.csv"}}
	s := NewCrawlStep(fakeRunner{result: resultWith(t, []string{"AAA", "BBB"}, "AAA")}, w, fixedNow, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if w.calls != 1 {
		t.Errorf("Write calls = %d, want 1", w.calls)
	}
	if got := s.Result().Summary().Success; got != 1 {
		t.Errorf("Success = %d, want 1", got)
	}
	if s.Paths().Table != "t.csv" {
		t.Errorf("Paths().Table = %q, want t.csv", s.Paths().Table)
	}
}

func TestCrawlStep_NoRecords(t *testing.T) {
	w := &fakePersister{paths: persist.Paths{TableSkipped: true}}
	s := NewCrawlStep(fakeRunner{result: resultWith(t, []string{"AAA"})}, w, fixedNow, nil)

	err := s.Run(context.Background())
	if !errors.Is(err, ErrNoRecords) {
		t.Errorf("Run() error = %v, want ErrNoRecords", err)
	}
	if w.calls != 1 {
		t.Errorf("Write calls = %d, want 1 (archive still written)", w.calls)
	}
}

func TestCrawlStep_PersistFailure(t *testing.T) {
	w := &fakePersister{err: persist.ErrFatal}
	s := NewCrawlStep(fakeRunner{result: resultWith(t, []string{"AAA"}, "AAA")}, w, fixedNow, nil)

	err := s.Run(context.Background())
	if !errors.Is(err, persist.ErrFatal) {
		t.Errorf("Run() error = %v, want ErrFatal", err)
	}
}

func TestCrawlStep_CanceledRunStillPersists(t *testing.T) {
	w := &fakePersister{}
	runner := fakeRunner{result: resultWith(t, []string{"AAA", "BBB"}, "AAA"), err: context.Canceled}
	s := NewCrawlStep(runner, w, fixedNow, nil)

	err := s.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if w.calls != 1 {
		t.Errorf("Write calls = %d, want 1", w.calls)
	}
}

func TestCrawlStep_NilResult(t *testing.T) {
	w := &fakePersister{}
	s := NewCrawlStep(fakeRunner{err: errors.New("boom")}, w, fixedNow, nil)

	if err := s.Run(context.Background()); err == nil || err.Error() != "boom" {
		t.Errorf("Run() error = %v, want boom", err)
	}
	if w.calls != 0 {
		t.Errorf("Write calls = %d, want 0", w.calls)
	}
}

func TestHandoffStep_FindsCrawledTable(t *testing.T) {
	fsys := afero.NewMemMapFs()
	w, err := persist.NewWriter(fsys, persist.Options{Dir: "out"})
	if err != nil {
		t.Fatalf("NewWriter() returned unexpected error: %v", err)
	}

	crawl := NewCrawlStep(fakeRunner{result: resultWith(t, []string{"AAA"}, "AAA")}, w, fixedNow, nil)
	handoff := NewHandoffStep(fsys, "out", crawl, fixedNow, nil)

	res := New(nil, crawl, handoff).Run(context.Background())
	if !res.Success {
		t.Fatalf("Run() failed: %s", res.Message)
	}

	want := filepath.Join("out", "nasdaq100_real_data_2025-03-01.csv")
	if handoff.Path() != want {
		t.Errorf("Path() = %q, want %q", handoff.Path(), want)
	}
}

func TestHandoffStep_FallsBackToLegacyName(t *testing.T) {
	fsys := afero.NewMemMapFs()
	legacy := filepath.Join("out", "stock_pe_peg_2025-03-01.csv")
	if err := afero.WriteFile(fsys, legacy, []byte("Date\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	handoff := NewHandoffStep(fsys, "out", nil, fixedNow, nil)
	if err := handoff.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned unexpected error: %v", err)
	}
	if handoff.Path() != legacy {
		t.Errorf("Path() = %q, want %q", handoff.Path(), legacy)
	}
}

func TestHandoffStep_Missing(t *testing.T) {
	handoff := NewHandoffStep(afero.NewMemMapFs(), "out", nil, fixedNow, nil)
	if err := handoff.Run(context.Background()); err == nil {
		t.Error("Run() expected error for missing table, got nil")
	}
}
