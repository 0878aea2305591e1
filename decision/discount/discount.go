// Package discount restates nominal annual dollar flows as present values.
package discount

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
	bcaerrors "hdv-bca/pkg/errors"
)

// Timing is the assumed point in the accrual year at which costs occur.
type Timing string

const (
	TimingStartYear Timing = "start-year"
	TimingEndYear   Timing = "end-year"
)

// ParseTiming validates a timing setting.
func ParseTiming(s string) (Timing, error) {
	switch Timing(s) {
	case TimingStartYear, TimingEndYear:
		return Timing(s), nil
	}
	return "", bcaerrors.NewConfigError("discounting.timing",
		fmt.Sprintf("%q is not one of %s, %s", s, TimingStartYear, TimingEndYear))
}

// Offset is 0 when costs occur at the start of the year (first year
// undiscounted) and 1 when they occur at year end.
func (t Timing) Offset() int {
	if t == TimingEndYear {
		return 1
	}
	return 0
}

// AnnualizedOffset is the complement of Offset used by the capital recovery factor.
func (t Timing) AnnualizedOffset() int {
	return 1 - t.Offset()
}

// Periods is the number of discounting periods elapsed at calendarYear.
func Periods(calendarYear, baseYear, offset int) int {
	return calendarYear - baseYear + offset
}

// Value discounts a nominal value accrued in calendarYear back to baseYear.
func Value(value, rate float64, calendarYear, baseYear, offset int) float64 {
	if rate == 0 {
		return value
	}
	return value / math.Pow(1+rate, float64(Periods(calendarYear, baseYear, offset)))
}

// Engine produces the discounted copies of every nominal fleet record.
type Engine struct {
	Rates    []float64
	BaseYear int
	Timing   Timing
	Logger   zerolog.Logger
}

// Apply adds, for every nonzero rate, a copy of each rate-0 record whose
// monetary fields are discounted. Rate-0 records are never modified; a
// discounted copy that already exists is overwritten.
func (e *Engine) Apply(store *fleet.Store) (int, error) {
	if _, err := ParseTiming(string(e.Timing)); err != nil {
		return 0, err
	}
	schema := store.Schema()
	offset := e.Timing.Offset()

	// Snapshot the nominal records before inserting so the source set is stable.
	nominal := store.NominalRecords()
	out := make([]*fleet.Record, 0, len(nominal)*len(e.Rates))
	for _, rate := range e.Rates {
		if rate == 0 {
			continue
		}
		if rate < 0 {
			return 0, bcaerrors.NewConfigError("discounting.social_rates", fmt.Sprintf("negative rate %g", rate))
		}
		for _, rec := range nominal {
			dup := rec.Clone()
			dup.Key = rec.Key.WithRate(rate)
			year := rec.Key.CalendarYear()
			for field, v := range dup.Values {
				spec, ok := schema.Lookup(field)
				if !ok || !spec.Monetary {
					continue
				}
				dup.Values[field] = Value(v, spec.Rate.Resolve(rate), year, e.BaseYear, offset)
			}
			out = append(out, dup)
		}
	}
	store.PutAll(out)

	e.Logger.Info().
		Int("nominal_records", len(nominal)).
		Int("discounted_records", len(out)).
		Int("base_year", e.BaseYear).
		Str("timing", string(e.Timing)).
		Msg("discounted fleet costs")
	return len(out), nil
}
