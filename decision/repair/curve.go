package repair

import (
	"math"

	"hdv-bca/decision/inputs"
)

// Curve is an emission-repair cost curve over vehicle age. Costs are per mile
// or per hour depending on the activity the anchors were given for.
type Curve struct {
	WarrantyAge   float64
	UsefulLifeAge float64
	InWarranty    float64
	AtUsefulLife  float64
	Max           float64
}

// NewCurve scales the reference anchors by the emission-repair share and the
// segment's direct-cost ratio to the reference engine.
func NewCurve(anchors inputs.RepairAnchors, share, directCostScaler, warrantyAge, usefulLifeAge float64) Curve {
	f := share * directCostScaler
	return Curve{
		WarrantyAge:   warrantyAge,
		UsefulLifeAge: usefulLifeAge,
		InWarranty:    anchors.InWarranty * f,
		AtUsefulLife:  anchors.AtUsefulLife * f,
		Max:           anchors.Max * f,
	}
}

func (c Curve) slope() float64 {
	if c.UsefulLifeAge == c.WarrantyAge {
		return 0
	}
	return (c.AtUsefulLife - c.InWarranty) / (c.UsefulLifeAge - c.WarrantyAge)
}

// CostPerMile returns the repair cost rate during the year a vehicle is age.
// It is flat until the warranty expires, ramps linearly to the useful-life
// cost, and is capped at Max afterwards.
func (c Curve) CostPerMile(age int) float64 {
	a := float64(age + 1)
	switch {
	case a < c.WarrantyAge:
		return c.InWarranty
	case a < c.UsefulLifeAge:
		return c.slope()*(a-c.WarrantyAge) + c.InWarranty
	case a == c.UsefulLifeAge:
		return c.AtUsefulLife
	default:
		return c.Max
	}
}

// Split is a year's repair cost rate divided between the manufacturer
// (under warranty) and the owner.
type Split struct {
	OEM   float64
	Owner float64
}

// Total is the combined rate.
func (s Split) Total() float64 { return s.OEM + s.Owner }

// SplitCostPerMile divides the cost rate at age between manufacturer and
// owner. In the year the warranty expires the manufacturer covers the
// fraction of the year still under warranty. In the year useful life is
// reached the rate blends the useful-life cost and the max cost by the same
// fractional-year rule.
func (c Curve) SplitCostPerMile(age int) Split {
	start, end := float64(age), float64(age+1)

	cpm := c.CostPerMile(age)
	if start < c.UsefulLifeAge && c.UsefulLifeAge < end {
		frac := c.UsefulLifeAge - math.Floor(c.UsefulLifeAge)
		cpm = frac*c.AtUsefulLife + (1-frac)*c.Max
	}

	var oemShare float64
	switch {
	case end <= c.WarrantyAge:
		oemShare = 1
	case start < c.WarrantyAge:
		oemShare = c.WarrantyAge - math.Floor(c.WarrantyAge)
	}
	return Split{OEM: cpm * oemShare, Owner: cpm * (1 - oemShare)}
}
