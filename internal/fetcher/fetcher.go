package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pegcrawler/internal/snapshot"
)

// Provider is the external data source. Implementations return the raw
// key/value snapshot for one ticker; the shape is untrusted and
// unversioned.
type Provider interface {
	// Snapshot retrieves the provider's current view of ticker.
	Snapshot(ctx context.Context, ticker string) (snapshot.Raw, error)

	// Name identifies the provider in logs.
	Name() string
}

// Pacer gates provider requests. *ratelimit.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
	Pause(ctx context.Context, d time.Duration) error
}

// Default retry configuration
const (
	DefaultMaxAttempts       = 3
	DefaultMinFields         = 5
	DefaultInterAttemptDelay = 1 * time.Second
	DefaultErrorBackoff      = 2 * time.Second
)

// Config controls retries and snapshot validation.
type Config struct {
	MaxAttempts       int
	MinFields         int           // a valid snapshot has strictly more fields than this
	InterAttemptDelay time.Duration // wait after an invalid snapshot
	ErrorBackoff      time.Duration // wait after a provider error
}

// DefaultConfig returns the standard retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       DefaultMaxAttempts,
		MinFields:         DefaultMinFields,
		InterAttemptDelay: DefaultInterAttemptDelay,
		ErrorBackoff:      DefaultErrorBackoff,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be >= 1")
	}
	if c.MinFields < 0 {
		return errors.New("min fields must be >= 0")
	}
	if c.InterAttemptDelay < 0 || c.ErrorBackoff < 0 {
		return errors.New("retry delays must be >= 0")
	}
	return nil
}

// Fetcher retrieves one ticker's snapshot with bounded retries.
type Fetcher struct {
	cfg      Config
	provider Provider
	pacer    Pacer
	logger   *slog.Logger
}

// New creates a Fetcher. Every provider request first waits on pacer.
func New(cfg Config, provider Provider, pacer Pacer, logger *slog.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if pacer == nil {
		return nil, errors.New("pacer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:      cfg,
		provider: provider,
		pacer:    pacer,
		logger:   logger,
	}, nil
}

// Provider returns the underlying provider.
func (f *Fetcher) Provider() Provider {
	return f.provider
}

// Valid reports whether raw passes the completeness check.
func (f *Fetcher) Valid(raw snapshot.Raw) bool {
	return raw.Len() > 0 && raw.Len() > f.cfg.MinFields
}

// Fetch retrieves a valid snapshot for ticker. An invalid snapshot is
// retried after InterAttemptDelay and any provider error, client errors
// included, after ErrorBackoff. There is no wait after the final attempt.
// The returned Attempt always carries the number of provider calls made.
// On failure the error is a *FetchError of type exhausted, wrapping the
// last cause, or canceled; only cancellation ends the loop early.
func (f *Fetcher) Fetch(ctx context.Context, ticker string) (Attempt, error) {
	var (
		res     = Attempt{Ticker: ticker}
		lastErr error
	)

	for n := 1; n <= f.cfg.MaxAttempts; n++ {
		if err := f.pacer.Wait(ctx); err != nil {
			return res, NewCanceledError(ticker, res.Attempts, err)
		}

		res.Attempts = n
		raw, err := f.provider.Snapshot(ctx, ticker)

		var wait time.Duration
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, NewCanceledError(ticker, n, err)
			}
			lastErr = err
			f.logger.Warn("snapshot request failed",
				"ticker", ticker,
				"attempt", n,
				"max_attempts", f.cfg.MaxAttempts,
				"transient", IsRetryable(err),
				"error", err)
			wait = f.cfg.ErrorBackoff
		case f.Valid(raw):
			res.Snapshot = raw
			f.logger.Debug("snapshot received",
				"ticker", ticker,
				"attempt", n,
				"fields", raw.Len())
			return res, nil
		default:
			lastErr = NewInvalidSnapshotError(ticker, raw.Len(), f.cfg.MinFields)
			f.logger.Warn("snapshot too thin, retrying",
				"ticker", ticker,
				"attempt", n,
				"fields", raw.Len())
			wait = f.cfg.InterAttemptDelay
		}

		if n < f.cfg.MaxAttempts {
			if err := f.pacer.Pause(ctx, wait); err != nil {
				return res, NewCanceledError(ticker, n, err)
			}
		}
	}

	return res, NewExhaustedError(ticker, res.Attempts, lastErr)
}
