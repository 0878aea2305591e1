// Package weighting provides per-unit normalization and weighted averages.
package weighting

// PerUnit divides a total by its unit count. A zero count yields 0: a segment
// with no vehicles or no miles contributes no cost per unit.
func PerUnit(total, units float64) float64 {
	if units == 0 {
		return 0
	}
	return total / units
}

// Accumulator builds a weighted average incrementally.
type Accumulator struct {
	sum       float64
	weightSum float64
}

// Add folds one observation into the average.
func (a *Accumulator) Add(value, weight float64) {
	a.sum += value * weight
	a.weightSum += weight
}

// Mean returns the weighted mean, or 0 when no weight has been added.
func (a *Accumulator) Mean() float64 {
	return PerUnit(a.sum, a.weightSum)
}
