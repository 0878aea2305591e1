package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdv-bca/decision/fleet"
	"hdv-bca/decision/inputs"
	bcaerrors "hdv-bca/pkg/errors"
)

func TestEstimatedAge(t *testing.T) {
	assert.Equal(t, 2.0, EstimatedAge(5, 100_000, 50_000))
	assert.Equal(t, 5.0, EstimatedAge(5, 1_000_000, 50_000))
	assert.Equal(t, 5.0, EstimatedAge(5, 100_000, 0))
}

func testCurve() Curve {
	return Curve{WarrantyAge: 3, UsefulLifeAge: 8, InWarranty: 0.01, AtUsefulLife: 0.06, Max: 0.1}
}

func TestCurveRegimes(t *testing.T) {
	c := testCurve()
	assert.Equal(t, 0.01, c.CostPerMile(0))
	assert.Equal(t, 0.01, c.CostPerMile(1))
	// warranty boundary: age+1 == warranty age starts the ramp at the in-warranty cost
	assert.Equal(t, 0.01, c.CostPerMile(2))
	assert.InDelta(t, 0.01+0.01*2, c.CostPerMile(4), 1e-12)
	assert.Equal(t, 0.06, c.CostPerMile(7))
	for _, age := range []int{8, 12, 40, 1000} {
		assert.Equal(t, 0.1, c.CostPerMile(age))
	}
}

func TestCurveRampReachesUsefulLifeCost(t *testing.T) {
	c := Curve{WarrantyAge: 2.5, UsefulLifeAge: 7.5, InWarranty: 0, AtUsefulLife: 0.05, Max: 0.08}
	// left of the warranty threshold
	assert.Equal(t, 0.0, c.CostPerMile(1))
	// ramp approaches the useful-life cost without exceeding it
	assert.Less(t, c.CostPerMile(6), 0.05)
	assert.InDelta(t, 0.05*4.5/5, c.CostPerMile(6), 1e-12)
	// fractional useful life never hits equality, so the cap applies directly
	assert.Equal(t, 0.08, c.CostPerMile(7))
}

func TestCurveFlatWhenThresholdsCoincide(t *testing.T) {
	c := Curve{WarrantyAge: 5, UsefulLifeAge: 5, InWarranty: 0.02, AtUsefulLife: 0.04, Max: 0.09}
	assert.Equal(t, 0.02, c.CostPerMile(3))
	assert.Equal(t, 0.04, c.CostPerMile(4))
	assert.Equal(t, 0.09, c.CostPerMile(5))
}

func TestNewCurveScalesAnchors(t *testing.T) {
	c := NewCurve(inputs.RepairAnchors{InWarranty: 0.1, AtUsefulLife: 0.2, Max: 0.4}, 0.5, 2, 3, 8)
	assert.InDelta(t, 0.1, c.InWarranty, 1e-12)
	assert.InDelta(t, 0.2, c.AtUsefulLife, 1e-12)
	assert.InDelta(t, 0.4, c.Max, 1e-12)
	assert.Equal(t, 3.0, c.WarrantyAge)
}

func TestSplitCostPerMile(t *testing.T) {
	c := Curve{WarrantyAge: 2.25, UsefulLifeAge: 5.5, InWarranty: 0.04, AtUsefulLife: 0.08, Max: 0.12}

	s := c.SplitCostPerMile(0)
	assert.Equal(t, 0.04, s.OEM)
	assert.Equal(t, 0.0, s.Owner)

	// crossing year: manufacturer covers the quarter still under warranty
	s = c.SplitCostPerMile(2)
	assert.InDelta(t, c.CostPerMile(2)*0.25, s.OEM, 1e-12)
	assert.InDelta(t, c.CostPerMile(2)*0.75, s.Owner, 1e-12)

	s = c.SplitCostPerMile(3)
	assert.Equal(t, 0.0, s.OEM)
	assert.InDelta(t, c.CostPerMile(3), s.Owner, 1e-12)

	// useful-life crossing blends the useful-life and max costs
	s = c.SplitCostPerMile(5)
	assert.InDelta(t, 0.5*0.08+0.5*0.12, s.Total(), 1e-12)

	assert.Equal(t, 0.12, c.SplitCostPerMile(9).Owner)
}

func vmtStore(t *testing.T, v fleet.Vehicle, myFirst, myLast, maxAge int, perVeh func(my, age int) float64) *fleet.Store {
	t.Helper()
	fs := fleet.NewStore(nil)
	for my := myFirst; my <= myLast; my++ {
		for age := 0; age <= maxAge && my+age <= myLast+maxAge; age++ {
			r := fleet.NewRecord(fleet.Key{Segment: v, OptionID: 0, ModelYear: my, Age: age}, "")
			r.Set(fleet.FieldVMTPerVeh, perVeh(my, age))
			fs.Put(r)
		}
	}
	return fs
}

func TestTypicalVMTFallback(t *testing.T) {
	v := fleet.Vehicle{SourceTypeID: 61, RegClassID: 47, FuelTypeID: fleet.FuelDiesel}
	// calendar years end in 2032
	fs := fleet.NewStore(nil)
	for my := 2027; my <= 2032; my++ {
		for age := 0; my+age <= 2032; age++ {
			r := fleet.NewRecord(fleet.Key{Segment: v, OptionID: 0, ModelYear: my, Age: age}, "")
			r.Set(fleet.FieldVMTPerVeh, float64(my-2000)*1000+float64(age))
			fs.Put(r)
		}
	}

	inclusive, err := TypicalVMT{Horizon: 4}.Compute(fs)
	require.NoError(t, err)
	// 2028 + 4 == 2032 is feasible when the boundary is inclusive
	assert.InDelta(t, 28000+2.0, inclusive[VMTKey{Vehicle: v, OptionID: 0, ModelYear: 2028}], 1e-9)
	assert.InDelta(t, 28000+2.0, inclusive[VMTKey{Vehicle: v, OptionID: 0, ModelYear: 2031}], 1e-9)

	strict, err := TypicalVMT{Horizon: 4, Strict: true}.Compute(fs)
	require.NoError(t, err)
	assert.InDelta(t, 27000+2.0, strict[VMTKey{Vehicle: v, OptionID: 0, ModelYear: 2027}], 1e-9)
	assert.InDelta(t, 27000+2.0, strict[VMTKey{Vehicle: v, OptionID: 0, ModelYear: 2028}], 1e-9)
}

func TestTypicalVMTMissingAge(t *testing.T) {
	v := fleet.Vehicle{SourceTypeID: 61, RegClassID: 47, FuelTypeID: fleet.FuelDiesel}
	fs := vmtStore(t, v, 2027, 2027, 0, func(int, int) float64 { return 1 })
	later := fleet.NewRecord(fleet.Key{Segment: v, OptionID: 0, ModelYear: 2027, Age: 3}, "")
	fs.Put(later)

	_, err := TypicalVMT{Horizon: 2}.Compute(fs)
	require.Error(t, err)
	assert.True(t, bcaerrors.IsMissingKey(err))
}
