package snapshot

import (
	"maps"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Provider field names the normalizer understands.
const (
	FieldLongName       = "longName"
	FieldShortName      = "shortName"
	FieldSector         = "sector"
	FieldIndustry       = "industry"
	FieldCurrentPrice   = "currentPrice"
	FieldTrailingPE     = "trailingPE"
	FieldForwardPE      = "forwardPE"
	FieldTrailingPEG    = "trailingPegRatio"
	FieldPEG            = "pegRatio"
	FieldForwardPEG     = "forwardPegRatio"
	FieldEarningsGrowth = "earningsGrowth"
)

// nullMarkers are string values providers use in place of a missing field.
var nullMarkers = []string{"", "N/A", "NA", "None", "null", "NaN", "-"}

// Raw is a decoded provider snapshot for one ticker. It is treated as
// read-only once a provider has returned it.
type Raw map[string]any

// Len returns the number of fields in the snapshot.
func (r Raw) Len() int {
	return len(r)
}

// Clone returns a shallow copy.
func (r Raw) Clone() Raw {
	return maps.Clone(r)
}

// Float returns the value of key as a finite float64. Missing keys, null
// markers, booleans, unparseable strings and NaN/Inf all report false.
func (r Raw) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || isNull(v) {
		return 0, false
	}
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// String returns the trimmed value of key. Null markers report false.
func (r Raw) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || isNull(v) {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	if isNullMarker(s) {
		return "", false
	}
	return s, true
}

// LongName returns the company's full name.
func (r Raw) LongName() (string, bool) { return r.String(FieldLongName) }

// ShortName returns the abbreviated company name.
func (r Raw) ShortName() (string, bool) { return r.String(FieldShortName) }

// Sector returns the broad sector, e.g. "Technology".
func (r Raw) Sector() (string, bool) { return r.String(FieldSector) }

// Industry returns the industry within the sector.
func (r Raw) Industry() (string, bool) { return r.String(FieldIndustry) }

// CurrentPrice returns the latest share price.
func (r Raw) CurrentPrice() (float64, bool) { return r.Float(FieldCurrentPrice) }

// TrailingPE returns the price over trailing twelve month earnings.
func (r Raw) TrailingPE() (float64, bool) { return r.Float(FieldTrailingPE) }

// ForwardPE returns the price over estimated forward earnings.
func (r Raw) ForwardPE() (float64, bool) { return r.Float(FieldForwardPE) }

// TrailingPEG returns the provider's trailing PEG ratio.
func (r Raw) TrailingPEG() (float64, bool) { return r.Float(FieldTrailingPEG) }

// PEG returns the provider's headline PEG ratio.
func (r Raw) PEG() (float64, bool) { return r.Float(FieldPEG) }

// ForwardPEG returns the provider's forward PEG ratio.
func (r Raw) ForwardPEG() (float64, bool) { return r.Float(FieldForwardPEG) }

// EarningsGrowth returns earnings growth as a fraction, 0.15 meaning 15%.
func (r Raw) EarningsGrowth() (float64, bool) { return r.Float(FieldEarningsGrowth) }

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return isNullMarker(strings.TrimSpace(s))
	}
	return false
}

func isNullMarker(s string) bool {
	for _, m := range nullMarkers {
		if strings.EqualFold(s, m) {
			return true
		}
	}
	return false
}
