// Package repair models emission-repair costs over vehicle age and the
// estimated ages at which warranty and useful-life provisions expire.
package repair

import (
	"fmt"
	"sort"

	"hdv-bca/decision/fleet"
	bcaerrors "hdv-bca/pkg/errors"
)

// EstimatedAge converts a mileage requirement into years using typical annual
// mileage, capped at the age requirement. Zero mileage never reaches the
// mileage limit, so the age requirement applies.
func EstimatedAge(requiredAge, requiredMiles, typicalAnnualVMT float64) float64 {
	if typicalAnnualVMT <= 0 {
		return requiredAge
	}
	if byMiles := requiredMiles / typicalAnnualVMT; byMiles < requiredAge {
		return byMiles
	}
	return requiredAge
}

// VMTKey identifies a typical-VMT value.
type VMTKey struct {
	Vehicle   fleet.Vehicle
	OptionID  int
	ModelYear int
}

func (k VMTKey) String() string {
	return fmt.Sprintf("%s/opt=%d/my=%d", k.Vehicle, k.OptionID, k.ModelYear)
}

// TypicalVMT averages annual VMT per vehicle over ages 0..Horizon.
type TypicalVMT struct {
	Horizon int
	// Strict requires the horizon to end before the last calendar year of
	// data rather than on it.
	Strict bool
}

// feasible reports whether a model year's horizon fits within the data.
func (t TypicalVMT) feasible(modelYear, lastYear int) bool {
	if t.Strict {
		return modelYear+t.Horizon < lastYear
	}
	return modelYear+t.Horizon <= lastYear
}

// latestFeasible is the last model year whose horizon fits within the data.
func (t TypicalVMT) latestFeasible(lastYear int) int {
	if t.Strict {
		return lastYear - t.Horizon - 1
	}
	return lastYear - t.Horizon
}

// Compute returns the typical annual VMT of every vehicle, option and model
// year in fs. Model years whose horizon would run past the last calendar year
// reuse the profile of the latest feasible model year.
func (t TypicalVMT) Compute(fs *fleet.Store) (map[VMTKey]float64, error) {
	if t.Horizon < 0 {
		return nil, bcaerrors.NewConfigError("repair.typical_vmt_horizon", fmt.Sprintf("must be >= 0, got %d", t.Horizon))
	}
	lastYear := 0
	seen := make(map[VMTKey]bool)
	var keys []VMTKey
	for _, rec := range fs.NominalRecords() {
		if cy := rec.Key.CalendarYear(); cy > lastYear {
			lastYear = cy
		}
		v, ok := rec.Key.Segment.(fleet.Vehicle)
		if !ok {
			continue
		}
		k := VMTKey{Vehicle: v, OptionID: rec.Key.OptionID, ModelYear: rec.Key.ModelYear}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].ModelYear < keys[j].ModelYear })

	out := make(map[VMTKey]float64, len(keys))
	for _, k := range keys {
		source := k
		if !t.feasible(k.ModelYear, lastYear) {
			source.ModelYear = t.latestFeasible(lastYear)
		}
		if v, ok := out[source]; ok && source != k {
			out[k] = v
			continue
		}
		var cumulative float64
		for age := 0; age <= t.Horizon; age++ {
			rec, err := fs.Get(fleet.Key{Segment: source.Vehicle, OptionID: source.OptionID, ModelYear: source.ModelYear, Age: age})
			if err != nil {
				return nil, fmt.Errorf("failed to compute typical VMT for %s: %w", k, err)
			}
			cumulative += rec.Get(fleet.FieldVMTPerVeh)
		}
		out[k] = cumulative / float64(t.Horizon+1)
	}
	return out, nil
}
