package summary

import (
	"sort"

	"github.com/rs/zerolog"

	"hdv-bca/decision/discount"
	"hdv-bca/decision/fleet"
)

// Engine builds the summary series from a fleet store.
type Engine struct {
	// Rates to summarize; rate 0 is always included. Empty means every rate in the fleet store.
	Rates    []float64
	BaseYear int
	Timing   discount.Timing
	Logger   zerolog.Logger
}

// Build aggregates fs into AnnualValue, PresentValue and AnnualizedValue series.
//
// AnnualValue sums every declared total field over the segments of an
// (option, year, rate) slice. Fields missing from some records count as 0.
// PresentValue is the running sum of AnnualValue from the first calendar year.
// AnnualizedValue converts each PresentValue with the capital recovery factor;
// it is produced for nonzero rates only.
func (e *Engine) Build(fs *fleet.Store) (*Store, error) {
	if _, err := discount.ParseTiming(string(e.Timing)); err != nil {
		return nil, err
	}
	schema := fs.Schema()
	offset := e.Timing.Offset()
	annualizedOffset := e.Timing.AnnualizedOffset()

	totals, monetary := e.fieldSets(fs)
	years := fs.CalendarYears()
	out := NewStore()

	for _, rate := range e.rates(fs) {
		for _, option := range fs.Options() {
			name, _ := fs.OptionName(option)
			running := make(map[string]float64, len(monetary))

			for _, year := range years {
				annual := NewRecord(Key{Series: AnnualValue, OptionID: option, CalendarYear: year, Rate: rate}, name)
				for _, f := range totals {
					annual.Values[f] = 0
				}
				for _, rec := range fs.Slice(option, year, rate) {
					for _, f := range totals {
						annual.Values[f] += rec.Values[f]
					}
				}
				out.Put(annual)

				periods := discount.Periods(year, e.BaseYear, offset)
				pv := NewRecord(Key{Series: PresentValue, OptionID: option, CalendarYear: year, Rate: rate}, name)
				pv.Periods = periods
				for _, f := range monetary {
					running[f] += annual.Values[f]
					pv.Values[f] = running[f]
				}
				out.Put(pv)

				if rate == 0 {
					continue
				}
				ann := NewRecord(Key{Series: AnnualizedValue, OptionID: option, CalendarYear: year, Rate: rate}, name)
				ann.Periods = periods
				for _, f := range monetary {
					spec, _ := schema.Lookup(f)
					ann.Values[f] = discount.Annualize(pv.Values[f], spec.Rate.Resolve(rate), periods, annualizedOffset)
				}
				out.Put(ann)
			}
		}
	}

	e.Logger.Info().
		Int("records", out.Len()).
		Int("fields", len(totals)).
		Int("years", len(years)).
		Msg("built annual, present and annualized values")
	return out, nil
}

func (e *Engine) rates(fs *fleet.Store) []float64 {
	if len(e.Rates) == 0 {
		return fs.Rates()
	}
	seen := map[float64]bool{0: true}
	out := []float64{0}
	for _, r := range e.Rates {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Float64s(out)
	return out
}

// fieldSets returns the declared total fields present anywhere in the store,
// and the monetary subset.
func (e *Engine) fieldSets(fs *fleet.Store) (totals, monetary []string) {
	schema := fs.Schema()
	seen := make(map[string]bool)
	for _, rec := range fs.NominalRecords() {
		for f := range rec.Values {
			if seen[f] || !schema.IsTotal(f) {
				continue
			}
			seen[f] = true
			totals = append(totals, f)
			if schema.IsMonetary(f) {
				monetary = append(monetary, f)
			}
		}
	}
	sort.Strings(totals)
	sort.Strings(monetary)
	return totals, monetary
}
