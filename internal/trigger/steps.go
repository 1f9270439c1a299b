package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"pegcrawler/internal/aggregate"
	"pegcrawler/internal/persist"
)

// ErrNoRecords fails a crawl that produced no table rows.
var ErrNoRecords = errors.New("no records collected")

// Runner produces a run result; *coordinator.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, runDate time.Time) (*aggregate.RunResult, error)
}

// Persister stores a run result; *persist.Writer satisfies it.
type Persister interface {
	Write(result *aggregate.RunResult, runDate time.Time) (persist.Paths, error)
}

// CrawlStep runs the coordinator and persists whatever it collected.
type CrawlStep struct {
	runner Runner
	writer Persister
	now    func() time.Time
	logger *slog.Logger

	result *aggregate.RunResult
	paths  persist.Paths
}

// NewCrawlStep creates a CrawlStep. now supplies the run date; nil means
// time.Now.
func NewCrawlStep(runner Runner, writer Persister, now func() time.Time, logger *slog.Logger) *CrawlStep {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CrawlStep{runner: runner, writer: writer, now: now, logger: logger}
}

func (s *CrawlStep) Name() string { return "crawl" }

// Run collects and persists one run. A canceled run still persists its
// partial result before returning the cancellation. The step fails when
// persistence fails or when no row was produced.
func (s *CrawlStep) Run(ctx context.Context) error {
	runDate := s.now()

	result, runErr := s.runner.Run(ctx, runDate)
	if result == nil {
		if runErr == nil {
			runErr = errors.New("run returned no result")
		}
		return runErr
	}
	s.result = result

	paths, err := s.writer.Write(result, runDate)
	s.paths = paths
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("persist: %w", err))
	}

	s.logger.Info("results saved",
		"table", paths.Table,
		"table_skipped", paths.TableSkipped,
		"table_renamed", paths.TableRenamed,
		"archive", paths.Archive,
		"archive_skipped", paths.ArchiveSkipped)

	if runErr != nil {
		return runErr
	}
	if len(result.Records()) == 0 {
		return ErrNoRecords
	}
	return nil
}

// Result returns the last run result, or nil before the first run.
func (s *CrawlStep) Result() *aggregate.RunResult {
	return s.result
}

// Paths returns where the last run was written.
func (s *CrawlStep) Paths() persist.Paths {
	return s.paths
}

// HandoffStep confirms that the table a report consumer will read exists
// for the run date.
type HandoffStep struct {
	fs       afero.Fs
	dir      string
	datasets []string
	now      func() time.Time
	crawl    *CrawlStep
	logger   *slog.Logger

	path string
}

// NewHandoffStep creates a HandoffStep looking in dir. The table written by
// crawl is preferred, so a renamed table is still found; otherwise the
// datasets are searched in order (canonical and legacy names when empty).
func NewHandoffStep(fsys afero.Fs, dir string, crawl *CrawlStep, now func() time.Time, logger *slog.Logger, datasets ...string) *HandoffStep {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HandoffStep{
		fs:       fsys,
		dir:      dir,
		datasets: datasets,
		now:      now,
		crawl:    crawl,
		logger:   logger,
	}
}

func (s *HandoffStep) Name() string { return "report handoff" }

func (s *HandoffStep) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.crawl != nil {
		if p := s.crawl.Paths().Table; p != "" {
			ok, err := afero.Exists(s.fs, p)
			if err != nil {
				return err
			}
			if ok {
				s.path = p
				s.logger.Info("table ready for report", "path", p)
				return nil
			}
		}
	}

	path, err := persist.Locate(s.fs, s.dir, s.now(), s.datasets...)
	if err != nil {
		return err
	}
	s.path = path
	s.logger.Info("table ready for report", "path", path)
	return nil
}

// Path returns the table found by the last Run.
func (s *HandoffStep) Path() string {
	return s.path
}
