package normalize

import (
	"math"
	"time"

	"pegcrawler/internal/snapshot"
)

// Unknown is used for text fields the provider did not supply.
const Unknown = "N/A"

// Record is the flattened, fixed-shape view of one snapshot. Nil numeric
// fields are unknown, never zero.
type Record struct {
	RunDate      time.Time
	CompanyName  string
	Ticker       string
	Industry     string
	CurrentPrice *float64
	TrailingPE   *float64
	ForwardPE    *float64
	PEGRatio     *float64

	// PEGDerived is set when PEGRatio was computed from trailing P/E and
	// earnings growth rather than read from the provider.
	PEGDerived bool
}

// Admitted reports whether the record carries at least one priced or
// valuation field and so belongs in the table.
func (r Record) Admitted() bool {
	return r.CurrentPrice != nil || r.TrailingPE != nil || r.PEGRatio != nil
}

// Normalize extracts a Record from raw using the provider field fallbacks.
func Normalize(ticker string, raw snapshot.Raw, runDate time.Time) Record {
	rec := Record{
		RunDate:      runDate,
		Ticker:       ticker,
		CompanyName:  companyName(raw),
		Industry:     industryLabel(raw),
		CurrentPrice: optional(raw.CurrentPrice()),
		TrailingPE:   optional(raw.TrailingPE()),
		ForwardPE:    optional(raw.ForwardPE()),
	}
	rec.PEGRatio, rec.PEGDerived = pegRatio(raw, rec.TrailingPE)
	return rec
}

func companyName(raw snapshot.Raw) string {
	if name, ok := raw.LongName(); ok {
		return name
	}
	if name, ok := raw.ShortName(); ok {
		return name
	}
	return Unknown
}

// industryLabel renders "sector - industry", collapsing to one part when the
// other is missing or both are equal.
func industryLabel(raw snapshot.Raw) string {
	sector, hasSector := raw.Sector()
	industry, hasIndustry := raw.Industry()
	switch {
	case hasSector && hasIndustry && industry != sector:
		return sector + " - " + industry
	case hasSector:
		return sector
	case hasIndustry:
		return industry
	default:
		return Unknown
	}
}

func pegRatio(raw snapshot.Raw, trailingPE *float64) (*float64, bool) {
	for _, get := range []func() (float64, bool){raw.TrailingPEG, raw.PEG, raw.ForwardPEG} {
		if v, ok := get(); ok {
			return &v, false
		}
	}
	if trailingPE == nil {
		return nil, false
	}
	growth, ok := raw.EarningsGrowth()
	if !ok {
		return nil, false
	}
	if peg, ok := DerivePEG(*trailingPE, growth); ok {
		return &peg, true
	}
	return nil, false
}

// DerivePEG computes trailingPE / (growth * 100). growth is a fractional
// rate (0.15 for 15%). Zero, negative or non-finite growth makes PEG
// meaningless, so ok is false rather than a number being returned.
func DerivePEG(trailingPE, growth float64) (peg float64, ok bool) {
	if math.IsNaN(trailingPE) || math.IsInf(trailingPE, 0) {
		return 0, false
	}
	if math.IsNaN(growth) || math.IsInf(growth, 0) || growth <= 0 {
		return 0, false
	}
	divisor := growth * 100
	if divisor == 0 || math.IsInf(divisor, 0) {
		return 0, false
	}
	peg = trailingPE / divisor
	if math.IsNaN(peg) || math.IsInf(peg, 0) {
		return 0, false
	}
	return peg, true
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
