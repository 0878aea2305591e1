package summary

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdv-bca/decision/discount"
	"hdv-bca/decision/fleet"
)

var (
	tractor    = fleet.Vehicle{SourceTypeID: 62, RegClassID: 47, FuelTypeID: fleet.FuelDiesel}
	vocational = fleet.Vehicle{SourceTypeID: 52, RegClassID: 46, FuelTypeID: fleet.FuelDiesel}
)

func put(s *fleet.Store, seg fleet.Segment, option, my, age int, values map[string]float64) {
	r := fleet.NewRecord(fleet.Key{Segment: seg, OptionID: option, ModelYear: my, Age: age}, "")
	for k, v := range values {
		r.Set(k, v)
	}
	s.Put(r)
}

func TestAnnualValueSumsSegments(t *testing.T) {
	fs := fleet.NewStore(nil)
	fs.SetOptionName(0, "NoAction")
	put(fs, tractor, 0, 2027, 0, map[string]float64{fleet.FieldDirectCost: 100, fleet.FieldVMT: 10})
	put(fs, vocational, 0, 2027, 0, map[string]float64{fleet.FieldDirectCost: 50, fleet.FieldVMT: 5})
	put(fs, tractor, 0, 2026, 1, map[string]float64{fleet.FieldDirectCost: 7})
	put(fs, tractor, 0, 2027, 1, map[string]float64{fleet.FieldDirectCost: 3, fleet.FieldDirectCostPerVeh: 99})

	e := &Engine{BaseYear: 2027, Timing: discount.TimingStartYear}
	out, err := e.Build(fs)
	require.NoError(t, err)

	av, err := out.Get(Key{Series: AnnualValue, OptionID: 0, CalendarYear: 2027, Rate: 0})
	require.NoError(t, err)
	assert.Equal(t, 157.0, av.Get(fleet.FieldDirectCost))
	assert.Equal(t, 15.0, av.Get(fleet.FieldVMT))
	assert.Equal(t, 1, av.Periods)
	assert.Equal(t, "NoAction", av.OptionName)
	// per-unit fields are not additive
	_, summed := av.Values[fleet.FieldDirectCostPerVeh]
	assert.False(t, summed)

	av28, err := out.Get(Key{Series: AnnualValue, OptionID: 0, CalendarYear: 2028, Rate: 0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, av28.Get(fleet.FieldDirectCost))
	// a field absent from every record of the slice still appears as zero
	assert.Equal(t, 0.0, av28.Get(fleet.FieldVMT))
}

func TestPresentValueIsRunningSum(t *testing.T) {
	fs := fleet.NewStore(nil)
	for i, cost := range []float64{100, 80, 60} {
		put(fs, tractor, 1, 2027+i, 0, map[string]float64{fleet.FieldTechCost: cost})
	}

	e := &Engine{BaseYear: 2027, Timing: discount.TimingEndYear}
	out, err := e.Build(fs)
	require.NoError(t, err)

	pvs := []float64{100, 180, 240}
	for i, want := range pvs {
		year := 2027 + i
		pv, err := out.Get(Key{Series: PresentValue, OptionID: 1, CalendarYear: year, Rate: 0})
		require.NoError(t, err)
		assert.Equal(t, want, pv.Get(fleet.FieldTechCost))
		assert.Equal(t, year-2027+1, pv.Periods)
		if i > 0 {
			prev, _ := out.Lookup(Key{Series: PresentValue, OptionID: 1, CalendarYear: year - 1})
			assert.GreaterOrEqual(t, pv.Get(fleet.FieldTechCost), prev.Get(fleet.FieldTechCost))
		}
	}
	// no annualized series at rate 0
	_, ok := out.Lookup(Key{Series: AnnualizedValue, OptionID: 1, CalendarYear: 2027})
	assert.False(t, ok)
}

// Summarizing a discounted constant stream and annualizing must give back the
// nominal annual cost.
func TestAnnualizedReproducesConstantStream(t *testing.T) {
	const (
		cost = 100.0
		rate = 0.03
	)
	schema := fleet.DefaultSchema()
	damage := schema.RegisterDamage("PM25", 0.07)
	fs := fleet.NewStore(schema)
	for y := 2027; y <= 2037; y++ {
		put(fs, tractor, 0, y, 0, map[string]float64{fleet.FieldOperatingCost: cost, damage: cost})
	}

	timing := discount.TimingStartYear
	de := &discount.Engine{Rates: []float64{rate}, BaseYear: 2027, Timing: timing}
	_, err := de.Apply(fs)
	require.NoError(t, err)

	se := &Engine{Rates: []float64{rate}, BaseYear: 2027, Timing: timing}
	out, err := se.Build(fs)
	require.NoError(t, err)

	ann, err := out.Get(Key{Series: AnnualizedValue, OptionID: 0, CalendarYear: 2037, Rate: rate})
	require.NoError(t, err)
	assert.Equal(t, 10, ann.Periods)
	assert.InDelta(t, cost, ann.Get(fleet.FieldOperatingCost), 1e-9)
	// the damage stream was discounted and annualized at its own 7% rate
	assert.InDelta(t, cost, ann.Get(damage), 1e-9)

	pv, err := out.Get(Key{Series: PresentValue, OptionID: 0, CalendarYear: 2037, Rate: rate})
	require.NoError(t, err)
	var want float64
	for k := 0; k <= 10; k++ {
		want += cost / math.Pow(1+rate, float64(k))
	}
	assert.InDelta(t, want, pv.Get(fleet.FieldOperatingCost), 1e-9)
}

func TestZeroRateSummaryIgnoresDiscounting(t *testing.T) {
	fs := fleet.NewStore(nil)
	put(fs, tractor, 0, 2030, 0, map[string]float64{fleet.FieldFuelCostPretax: 400})

	_, err := (&discount.Engine{Rates: []float64{0.07}, BaseYear: 2027, Timing: discount.TimingStartYear}).Apply(fs)
	require.NoError(t, err)
	out, err := (&Engine{Rates: []float64{0.07}, BaseYear: 2027, Timing: discount.TimingStartYear}).Build(fs)
	require.NoError(t, err)

	nominal, err := out.Get(Key{Series: PresentValue, OptionID: 0, CalendarYear: 2030, Rate: 0})
	require.NoError(t, err)
	assert.Equal(t, 400.0, nominal.Get(fleet.FieldFuelCostPretax))

	discounted, err := out.Get(Key{Series: AnnualValue, OptionID: 0, CalendarYear: 2030, Rate: 0.07})
	require.NoError(t, err)
	assert.InDelta(t, 400/math.Pow(1.07, 3), discounted.Get(fleet.FieldFuelCostPretax), 1e-9)
}
