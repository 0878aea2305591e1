// Package learning prices technology packages net of volume-based learning.
package learning

import "math"

// LearnedUnitCost scales baseCost by cumulative production volume:
//
//	base * ((cum + first*seed) / (first + first*seed)) ^ rate
//
// firstYearSales and cumulativeSales share the same penetration-adjusted
// basis. Zero first-year sales means the step has no volume yet and yields 0.
func LearnedUnitCost(baseCost, firstYearSales, cumulativeSales, seedVolumeFactor, learningRate float64) float64 {
	if firstYearSales == 0 {
		return 0
	}
	seed := firstYearSales * seedVolumeFactor
	return baseCost * math.Pow((cumulativeSales+seed)/(firstYearSales+seed), learningRate)
}
