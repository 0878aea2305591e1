package learning

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
	bcaerrors "hdv-bca/pkg/errors"
)

// Step is one standard-implementation step of a package: an incremental
// cost introduced in Year and applied to a Penetration share of sales.
type Step struct {
	Year        int     `yaml:"year" json:"year"`
	Cost        float64 `yaml:"cost" json:"cost"`
	Penetration float64 `yaml:"penetration" json:"penetration"`
}

// Package is the technology cost of one segment under one option. Segment
// may be an engine or a vehicle segment; costs apply to every vehicle the
// segment matches.
type Package struct {
	Segment  fleet.Segment
	OptionID int
	Steps    []Step
}

// Key identifies the learned cost of one step for one model year.
type Key struct {
	Segment   fleet.Segment
	OptionID  int
	ModelYear int
	StepYear  int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/opt=%d/my=%d/step=%d", k.Segment, k.OptionID, k.ModelYear, k.StepYear)
}

// Record is the learned cost of one step.
type Record struct {
	Key         Key
	PackageCost float64
	Penetration float64
	// LearnedCost is per vehicle with penetration applied.
	LearnedCost float64
}

// Model computes learned package costs for every model year in a fleet.
type Model struct {
	SeedVolumeFactor float64
	LearningRate     float64
	NoActionOptionID int
	Logger           zerolog.Logger
}

// Table holds the learned step costs of a run.
type Table struct {
	noAction int
	records  map[Key]Record
	packages []Package
}

// Records returns every step record sorted by option, segment, model year and step.
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.OptionID != b.OptionID {
			return a.OptionID < b.OptionID
		}
		if a.Segment.String() != b.Segment.String() {
			return a.Segment.String() < b.Segment.String()
		}
		if a.ModelYear != b.ModelYear {
			return a.ModelYear < b.ModelYear
		}
		return a.StepYear < b.StepYear
	})
	return out
}

// Lookup returns one step record.
func (t *Table) Lookup(k Key) (Record, bool) {
	r, ok := t.records[k]
	return r, ok
}

func (t *Table) packageFor(seg fleet.Segment, option int) (Package, bool) {
	for _, p := range t.packages {
		if p.OptionID == option && p.Segment.Matches(seg) {
			return p, true
		}
	}
	return Package{}, false
}

func (t *Table) stepSum(p Package, my int) float64 {
	var sum float64
	for _, s := range p.Steps {
		if s.Year > my {
			continue
		}
		sum += t.records[Key{Segment: p.Segment, OptionID: p.OptionID, ModelYear: my, StepYear: s.Year}].LearnedCost
	}
	return sum
}

// UnitCost returns the per-vehicle direct cost of seg under option in model
// year my. Action options carry the no-action package cost plus their own steps.
func (t *Table) UnitCost(seg fleet.Segment, option, my int) (float64, error) {
	var total float64
	found := false
	if option != t.noAction {
		if p, ok := t.packageFor(seg, t.noAction); ok {
			total += t.stepSum(p, my)
			found = true
		}
	}
	if p, ok := t.packageFor(seg, option); ok {
		total += t.stepSum(p, my)
		found = true
	}
	if !found {
		return 0, bcaerrors.NewMissingKeyError("package cost", fmt.Sprintf("%s/opt=%d", seg, option))
	}
	return total, nil
}

// Sales returns new-vehicle sales (age-0 VPOP) by model year for the
// vehicles seg matches under option.
func Sales(fs *fleet.Store, seg fleet.Segment, option int) map[int]float64 {
	out := make(map[int]float64)
	for _, rec := range fs.NominalRecords() {
		k := rec.Key
		if k.Age != 0 || k.OptionID != option || !seg.Matches(k.Segment) {
			continue
		}
		out[k.ModelYear] += rec.Get(fleet.FieldVPOP)
	}
	return out
}

// Build learns every package step over the model years present in fs.
func (m *Model) Build(fs *fleet.Store, packages []Package) (*Table, error) {
	t := &Table{noAction: m.NoActionOptionID, records: make(map[Key]Record), packages: packages}
	modelYears := fs.ModelYears()

	for _, p := range packages {
		if p.Segment == nil {
			return nil, bcaerrors.NewInputError("package", fmt.Sprintf("option %d has no segment", p.OptionID))
		}
		sales := Sales(fs, p.Segment, p.OptionID)
		for _, s := range p.Steps {
			if s.Penetration < 0 || s.Penetration > 1 {
				return nil, bcaerrors.NewInputError("package step",
					fmt.Sprintf("%s/opt=%d/step=%d penetration %g outside [0,1]", p.Segment, p.OptionID, s.Year, s.Penetration))
			}
			first := sales[s.Year] * s.Penetration
			var cumulative float64
			for _, my := range modelYears {
				if my < s.Year {
					continue
				}
				cumulative += sales[my] * s.Penetration
				learned := LearnedUnitCost(s.Cost, first, cumulative, m.SeedVolumeFactor, m.LearningRate)
				k := Key{Segment: p.Segment, OptionID: p.OptionID, ModelYear: my, StepYear: s.Year}
				t.records[k] = Record{Key: k, PackageCost: s.Cost, Penetration: s.Penetration, LearnedCost: learned * s.Penetration}
				m.Logger.Debug().Str("key", k.String()).Float64("learned", learned).Msg("learned step cost")
			}
		}
	}

	m.Logger.Info().
		Int("packages", len(packages)).
		Int("step_records", len(t.records)).
		Float64("learning_rate", m.LearningRate).
		Msg("applied learning to package costs")
	return t, nil
}
