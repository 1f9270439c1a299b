package schedule

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"pegcrawler/internal/universe"
)

// Default pacing used when nothing is configured.
const (
	DefaultBatchSize     = 5
	DefaultPerItemDelay  = 2 * time.Second
	DefaultPerBatchDelay = 5 * time.Second
)

// Config holds batching and pacing settings.
type Config struct {
	BatchSize     int
	PerItemDelay  time.Duration // minimum spacing between provider requests
	PerBatchDelay time.Duration // pause between consecutive batches
}

// DefaultConfig returns the pacing the provider tolerates in practice.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		PerItemDelay:  DefaultPerItemDelay,
		PerBatchDelay: DefaultPerBatchDelay,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.PerItemDelay < 0 {
		return errors.New("per-item delay must be >= 0")
	}
	if c.PerBatchDelay < 0 {
		return errors.New("per-batch delay must be >= 0")
	}
	return nil
}

// Scheduler partitions a universe into fixed-size batches. It defines
// iteration order and pacing only; the caller performs the waits.
type Scheduler struct {
	cfg     Config
	tickers []string
}

// New creates a Scheduler over u.
func New(cfg Config, u universe.Universe) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{cfg: cfg, tickers: u.Tickers()}, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// NumBatches returns how many batches Batches yields.
func (s *Scheduler) NumBatches() int {
	return (len(s.tickers) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
}

// Batches lazily yields (index, batch) pairs in universe order. Each batch
// has at most BatchSize tickers; the last one may be shorter.
func (s *Scheduler) Batches() iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		for i, start := 0, 0; start < len(s.tickers); i, start = i+1, start+s.cfg.BatchSize {
			end := min(start+s.cfg.BatchSize, len(s.tickers))
			if !yield(i, s.tickers[start:end:end]) {
				return
			}
		}
	}
}
