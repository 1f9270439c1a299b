package universe

import (
	"slices"
	"strings"
)

// Universe is the immutable, sorted set of tickers fetched in one run.
type Universe struct {
	tickers []string
}

// New builds a Universe from a raw ticker list. Symbols are trimmed and
// upper-cased, blanks are dropped, duplicates collapse and the result is
// sorted lexicographically. An empty input gives an empty Universe.
func New(raw []string) Universe {
	seen := make(map[string]struct{}, len(raw))
	tickers := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tickers = append(tickers, t)
	}
	slices.Sort(tickers)
	return Universe{tickers: tickers}
}

// Tickers returns a copy of the ordered tickers.
func (u Universe) Tickers() []string {
	return slices.Clone(u.tickers)
}

// Len returns the number of tickers.
func (u Universe) Len() int {
	return len(u.tickers)
}

// Contains reports whether ticker is a member. The lookup is exact, callers
// pass already-normalized symbols.
func (u Universe) Contains(ticker string) bool {
	_, found := slices.BinarySearch(u.tickers, ticker)
	return found
}
