package discount

import "math"

// Annualize converts a present value into the level annual payment with the
// same present value over periods, using the capital recovery factor
//
//	pv * r * (1+r)^n / ((1+r)^(n+o) - 1)
//
// where o is the annualized offset. At r == 0 the factor's limit 1/(n+o) is used.
func Annualize(pv, rate float64, periods, annualizedOffset int) float64 {
	n := float64(periods)
	o := float64(annualizedOffset)
	if rate == 0 {
		if n+o == 0 {
			return pv
		}
		return pv / (n + o)
	}
	growth := math.Pow(1+rate, n)
	denom := math.Pow(1+rate, n+o) - 1
	if denom == 0 {
		return pv
	}
	return pv * rate * growth / denom
}
