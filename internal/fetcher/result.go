package fetcher

import "pegcrawler/internal/snapshot"

// Attempt represents the outcome of fetching one ticker.
type Attempt struct {
	// Ticker is the requested identifier
	Ticker string

	// Snapshot is the valid snapshot, nil when the fetch failed
	Snapshot snapshot.Raw

	// Attempts is the number of provider calls made, on success or failure
	Attempts int
}
