package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdv-bca/decision/fleet"
	"hdv-bca/decision/summary"
	"hdv-bca/decision/weighted"
	bcaerrors "hdv-bca/pkg/errors"
)

var truck = fleet.Vehicle{SourceTypeID: 61, RegClassID: 47, FuelTypeID: fleet.FuelDiesel}

func TestOptionID(t *testing.T) {
	tests := []struct {
		action, noAction, want int
	}{
		{1, 0, 10},
		{2, 0, 20},
		{2, 1, 21},
		{12, 3, 123},
	}
	for _, tt := range tests {
		got, err := OptionID(tt.action, tt.noAction)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := OptionID(-1, 0)
	assert.Error(t, err)
	assert.Equal(t, "Proposal_minus_NoAction", OptionName("Proposal", "NoAction"))
}

func TestFleetDeltaAndRecombination(t *testing.T) {
	fs := fleet.NewStore(nil)
	fs.SetOptionName(0, "NoAction")
	fs.SetOptionName(1, "Proposal")

	key := fleet.Key{Segment: truck, OptionID: 1, ModelYear: 2027, Age: 0, Rate: 0.03}
	action := fleet.NewRecord(key, "Proposal")
	action.Set(fleet.FieldDirectCost, 150)
	action.Set(fleet.FieldDEFCost, 12)
	noAction := fleet.NewRecord(key.WithOption(0), "NoAction")
	noAction.Set(fleet.FieldDirectCost, 100)
	noAction.Set(fleet.FieldVPOP, 4)
	fs.PutAll([]*fleet.Record{action, noAction})

	e := &Engine{NoActionOptionID: 0}
	n, err := e.Fleet(fs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := fs.Get(key.WithOption(10))
	require.NoError(t, err)
	assert.Equal(t, 50.0, d.Get(fleet.FieldDirectCost))
	assert.Equal(t, 12.0, d.Get(fleet.FieldDEFCost))
	assert.Equal(t, -4.0, d.Get(fleet.FieldVPOP))
	assert.Equal(t, "Proposal_minus_NoAction", d.OptionName)
	name, ok := fs.OptionName(10)
	assert.True(t, ok)
	assert.Equal(t, "Proposal_minus_NoAction", name)

	// action - delta == no-action
	assert.Equal(t, noAction.Get(fleet.FieldDirectCost), action.Get(fleet.FieldDirectCost)-d.Get(fleet.FieldDirectCost))
	// source records are untouched
	assert.Equal(t, 150.0, action.Get(fleet.FieldDirectCost))
}

func TestFleetDeltaMissingNoAction(t *testing.T) {
	fs := fleet.NewStore(nil)
	r := fleet.NewRecord(fleet.Key{Segment: truck, OptionID: 2, ModelYear: 2030}, "")
	r.Set(fleet.FieldDirectCost, 1)
	fs.Put(r)

	_, err := (&Engine{NoActionOptionID: 0}).Fleet(fs)
	require.Error(t, err)
	assert.True(t, bcaerrors.IsMissingKey(err))
	assert.Equal(t, 1, fs.Len())
}

func TestSummaryDelta(t *testing.T) {
	ss := summary.NewStore()
	k := summary.Key{Series: summary.PresentValue, OptionID: 1, CalendarYear: 2030, Rate: 0.07}
	a := summary.NewRecord(k, "Proposal")
	a.Periods = 3
	a.Values[fleet.FieldTechCost] = 900
	z := summary.NewRecord(k.WithOption(0), "NoAction")
	z.Values[fleet.FieldTechCost] = 400
	ss.PutAll([]*summary.Record{a, z})

	_, err := (&Engine{NoActionOptionID: 0}).Summary(ss)
	require.NoError(t, err)

	d, err := ss.Get(k.WithOption(10))
	require.NoError(t, err)
	assert.Equal(t, 500.0, d.Get(fleet.FieldTechCost))
	assert.Equal(t, 3, d.Periods)
	assert.Equal(t, "Proposal_minus_NoAction", d.OptionName)
}

func TestWeightedDeltaCarriesIdentifiers(t *testing.T) {
	ws := weighted.NewStore()
	k := weighted.Key{Vehicle: truck, OptionID: 2, ModelYear: 2031}
	a := weighted.NewRecord(k, "Alt2")
	a.Values[fleet.FieldOperatingCostPerMile] = 0.75
	z := weighted.NewRecord(k.WithOption(0), "NoAction")
	z.Values[fleet.FieldOperatingCostPerMile] = 0.70
	ws.Put(a)
	ws.Put(z)

	n, err := (&Engine{NoActionOptionID: 0}).Weighted(ws)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := ws.Get(k.WithOption(20))
	require.NoError(t, err)
	assert.InDelta(t, 0.05, d.Get(fleet.FieldOperatingCostPerMile), 1e-12)
	assert.Equal(t, "61", d.Identifiers[weighted.IdentSourceTypeID])
	assert.Equal(t, "Alt2_minus_NoAction", d.Identifiers[weighted.IdentOptionName])
	assert.Equal(t, "Alt2", a.Identifiers[weighted.IdentOptionName])
}

func TestFleetDeltaRejectsCollidingOptionID(t *testing.T) {
	fs := fleet.NewStore(nil)
	fs.SetOptionName(0, "Proposal")
	fs.SetOptionName(2, "NoAction")

	key := fleet.Key{Segment: truck, OptionID: 0, ModelYear: 2027}
	action := fleet.NewRecord(key, "Proposal")
	action.Set(fleet.FieldDirectCost, 150)
	noAction := fleet.NewRecord(key.WithOption(2), "NoAction")
	noAction.Set(fleet.FieldDirectCost, 100)
	fs.PutAll([]*fleet.Record{action, noAction})

	// "0" + "2" composes to 2, the no-action option itself
	_, err := (&Engine{NoActionOptionID: 2}).Fleet(fs)
	require.Error(t, err)
	assert.True(t, bcaerrors.IsConfigError(err))

	rec, err := fs.Get(key.WithOption(2))
	require.NoError(t, err)
	assert.Equal(t, 100.0, rec.Get(fleet.FieldDirectCost))
	name, _ := fs.OptionName(2)
	assert.Equal(t, "NoAction", name)
}

func TestSummaryDeltaRejectsCollidingOptionID(t *testing.T) {
	ss := summary.NewStore()
	k := summary.Key{Series: summary.AnnualValue, OptionID: 1, CalendarYear: 2030}
	ss.PutAll([]*summary.Record{
		summary.NewRecord(k, "A"),
		summary.NewRecord(k.WithOption(0), "NoAction"),
		summary.NewRecord(k.WithOption(10), "B"),
	})

	_, err := (&Engine{NoActionOptionID: 0}).Summary(ss)
	require.Error(t, err)
	assert.True(t, bcaerrors.IsConfigError(err))
	assert.Equal(t, 3, ss.Len())
}

func TestCheckOptionIDs(t *testing.T) {
	assert.NoError(t, CheckOptionIDs([]int{0, 1, 2}, 0))
	assert.NoError(t, CheckOptionIDs([]int{1, 2}, 1))

	err := CheckOptionIDs([]int{0, 1, 10}, 0)
	require.Error(t, err)
	assert.True(t, bcaerrors.IsConfigError(err))
	assert.True(t, bcaerrors.IsConfigError(CheckOptionIDs([]int{0, 2}, 2)))
}
