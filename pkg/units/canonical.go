// Package units provides canonical unit constants and dollar-basis conversions.
package units

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Unit represents a measurable quantity.
type Unit string

const (
	UnitGallons  Unit = "gallons"
	UnitMiles    Unit = "miles"
	UnitHours    Unit = "hours"
	UnitUSTons   Unit = "UStons"
	UnitDollars  Unit = "dollars"
	UnitVehicles Unit = "vehicles"
)

// MillilitersPerGallon converts US liquid gallons to milliliters.
const MillilitersPerGallon = 3785.411784

// MillilitersToGallons converts a volume in mL to US gallons.
func MillilitersToGallons(ml float64) float64 {
	return ml / MillilitersPerGallon
}

// Deflators maps a calendar year to its price-index value (any base).
type Deflators map[int]float64

// Factor returns the multiplier that restates basis-year dollars in target-year dollars.
func (d Deflators) Factor(basisYear, targetYear int) (decimal.Decimal, error) {
	if basisYear == targetYear {
		return decimal.NewFromInt(1), nil
	}
	from, ok := d[basisYear]
	if !ok || from == 0 {
		return decimal.Zero, fmt.Errorf("no deflator for dollar basis %d", basisYear)
	}
	to, ok := d[targetYear]
	if !ok {
		return decimal.Zero, fmt.Errorf("no deflator for dollar basis %d", targetYear)
	}
	return decimal.NewFromFloat(to).Div(decimal.NewFromFloat(from)), nil
}

// Deflate restates value from basisYear dollars to targetYear dollars.
func (d Deflators) Deflate(value float64, basisYear, targetYear int) (float64, error) {
	if value == 0 || basisYear == targetYear {
		return value, nil
	}
	f, err := d.Factor(basisYear, targetYear)
	if err != nil {
		return 0, err
	}
	out, _ := decimal.NewFromFloat(value).Mul(f).Float64()
	return out, nil
}

// Money renders a dollar amount rounded to cents.
func Money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Millions renders a dollar amount in millions with the given precision.
func Millions(v float64, places int32) string {
	return decimal.NewFromFloat(v).Div(decimal.NewFromInt(1_000_000)).StringFixed(places)
}
