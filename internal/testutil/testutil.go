package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"pegcrawler/internal/snapshot"
)

// MockProvider is a mock implementation of the fetcher.Provider interface for testing
type MockProvider struct {
	SnapshotFunc func(ctx context.Context, ticker string) (snapshot.Raw, error)
	NameValue    string

	mu    sync.Mutex
	calls []string
}

// Snapshot implements the fetcher.Provider interface
func (m *MockProvider) Snapshot(ctx context.Context, ticker string) (snapshot.Raw, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ticker)
	m.mu.Unlock()

	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx, ticker)
	}
	return snapshot.Raw{}, nil
}

// Name implements the fetcher.Provider interface
func (m *MockProvider) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

// Calls returns the tickers requested so far, in order.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times ticker was requested.
func (m *MockProvider) CallCount(ticker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == ticker {
			n++
		}
	}
	return n
}

// NewMockProvider creates a provider serving fixed snapshots. Tickers
// without an entry get the error in errs, or an empty snapshot.
func NewMockProvider(snapshots map[string]snapshot.Raw, errs map[string]error) *MockProvider {
	return &MockProvider{
		SnapshotFunc: func(ctx context.Context, ticker string) (snapshot.Raw, error) {
			if err, ok := errs[ticker]; ok {
				return nil, err
			}
			if raw, ok := snapshots[ticker]; ok {
				return raw, nil
			}
			return snapshot.Raw{}, nil
		},
	}
}

// FakeClock is a ratelimit.Clock that never blocks. Sleep records the
// requested duration and advances the clock.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake time, which only moves on Sleep or Advance.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep records d and advances the clock by it without blocking. It fails
// only when ctx is already done.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Advance moves the clock forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to Sleep.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sleeps)
}

// Slept returns the total of all recorded sleeps.
func (c *FakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

// FullSnapshot returns a snapshot with enough fields to pass the default
// completeness check, merged with extra.
func FullSnapshot(extra map[string]any) snapshot.Raw {
	raw := snapshot.Raw{
		"longName":  "Example Corp",
		"shortName": "Example",
		"sector":    "Technology",
		"industry":  "Software",
		"country":   "United States",
		"currency":  "USD",
		"exchange":  "NMS",
	}
	for k, v := range extra {
		raw[k] = v
	}
	return raw
}
