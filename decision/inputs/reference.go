// Package inputs loads the reference data and fleet activity consumed by a run.
package inputs

import (
	"fmt"
	"sort"

	"hdv-bca/decision/fleet"
	"hdv-bca/decision/learning"
	bcaerrors "hdv-bca/pkg/errors"
)

// Provision is a regulatory obligation expressed as an age and a mileage.
type Provision string

const (
	ProvisionWarranty   Provision = "warranty"
	ProvisionUsefulLife Provision = "useful_life"
)

// Requirement is the age and mileage of one provision.
type Requirement struct {
	Age   float64 `yaml:"age" json:"age"`
	Miles float64 `yaml:"miles" json:"miles"`
}

// RequirementEntry is one row of the requirement table.
type RequirementEntry struct {
	RegClassID int       `yaml:"reg_class_id"`
	FuelTypeID int       `yaml:"fuel_type_id"`
	OptionID   int       `yaml:"option_id"`
	ModelYear  int       `yaml:"model_year"`
	Provision  Provision `yaml:"provision"`
	Age        float64   `yaml:"age"`
	Miles      float64   `yaml:"miles"`
}

// FuelPrice is the retail and pre-tax price of one fuel in one year, per gallon.
type FuelPrice struct {
	Year        int     `yaml:"year"`
	FuelTypeID  int     `yaml:"fuel_type_id"`
	Retail      float64 `yaml:"retail"`
	Pretax      float64 `yaml:"pretax"`
	DollarBasis int     `yaml:"dollar_basis"`
}

// DEFPrice is the price of DEF in one year, per gallon.
type DEFPrice struct {
	Year        int     `yaml:"year"`
	Price       float64 `yaml:"price"`
	DollarBasis int     `yaml:"dollar_basis"`
}

// DoseRate is the base DEF consumption of an engine in gallons per gallon of fuel.
type DoseRate struct {
	RegClassID int     `yaml:"reg_class_id"`
	FuelTypeID int     `yaml:"fuel_type_id"`
	Rate       float64 `yaml:"dose_rate"`
}

// ORVRAdjustment is the refueling vapor recovered under an option, in mL per gallon.
type ORVRAdjustment struct {
	OptionID    int     `yaml:"option_id"`
	MLPerGallon float64 `yaml:"ml_per_gallon"`
}

// ScaledBy names the provision a markup factor grows with.
type ScaledBy string

const (
	ScaledByNone       ScaledBy = ""
	ScaledByWarranty   ScaledBy = "Warranty"
	ScaledByUsefulLife ScaledBy = "UsefulLife"
)

// Markup factor names.
const (
	MarkupWarranty = "Warranty"
	MarkupRnD      = "RnD"
	MarkupOther    = "Other"
	MarkupProfit   = "Profit"
)

// MarkupFactor is an indirect cost expressed as a fraction of direct cost.
type MarkupFactor struct {
	Name     string   `yaml:"name"`
	Value    float64  `yaml:"value"`
	ScaledBy ScaledBy `yaml:"scaled_by"`
}

// RepairAnchors are the cost-per-mile (or per-hour) points of the repair curve.
type RepairAnchors struct {
	InWarranty   float64 `yaml:"in_warranty"`
	AtUsefulLife float64 `yaml:"at_useful_life"`
	Max          float64 `yaml:"max"`
	DollarBasis  int     `yaml:"dollar_basis"`
}

// WarrantyBaseCost is the annual warranty cost of the reference engine.
type WarrantyBaseCost struct {
	CostPerYear float64 `yaml:"cost_per_year"`
	DollarBasis int     `yaml:"dollar_basis"`
}

// PackageEntry is the technology cost of one segment under one option.
// SourceTypeID 0 defines the package at engine level.
type PackageEntry struct {
	SourceTypeID int         `yaml:"source_type_id"`
	RegClassID   int         `yaml:"reg_class_id"`
	FuelTypeID   int         `yaml:"fuel_type_id"`
	OptionID     int         `yaml:"option_id"`
	DollarBasis  int         `yaml:"dollar_basis"`
	Steps        []StepEntry `yaml:"steps"`
}

// StepEntry is one implementation step of a package. An omitted penetration means full penetration.
type StepEntry struct {
	Year        int      `yaml:"year"`
	Cost        float64  `yaml:"cost"`
	Penetration *float64 `yaml:"penetration"`
}

// Segment returns the engine or vehicle segment the package applies to.
func (p PackageEntry) Segment() fleet.Segment {
	if p.SourceTypeID == 0 {
		return fleet.Engine{RegClassID: p.RegClassID, FuelTypeID: p.FuelTypeID}
	}
	return fleet.Vehicle{SourceTypeID: p.SourceTypeID, RegClassID: p.RegClassID, FuelTypeID: p.FuelTypeID}
}

// DamageCost is the dollar value per ton of a pollutant at a discount rate.
type DamageCost struct {
	Year        int     `yaml:"year"`
	Pollutant   string  `yaml:"pollutant"`
	Rate        float64 `yaml:"rate"`
	CostPerTon  float64 `yaml:"cost_per_ton"`
	DollarBasis int     `yaml:"dollar_basis"`
}

// Reference bundles the reference data of a run. It is built once by the
// loader and passed to the engines that need it.
type Reference struct {
	Deflators               map[int]float64    `yaml:"deflators"`
	FuelPrices              []FuelPrice        `yaml:"fuel_prices"`
	DEFPrices               []DEFPrice         `yaml:"def_prices"`
	DoseRates               []DoseRate         `yaml:"def_dose_rates"`
	DEFGallonsPerTonReduced float64            `yaml:"def_gallons_per_ton_nox_reduced"`
	ORVR                    []ORVRAdjustment   `yaml:"orvr_adjustments"`
	Requirements            []RequirementEntry `yaml:"requirements"`
	MarkupFactors           []MarkupFactor     `yaml:"markup_factors"`
	RepairCurve             RepairAnchors      `yaml:"repair_curve"`
	WarrantyBase            WarrantyBaseCost   `yaml:"warranty_base_cost"`
	Packages                []PackageEntry     `yaml:"packages"`
	DamageCosts             []DamageCost       `yaml:"damage_costs"`

	fuel         map[fuelKey]FuelPrice
	def          map[int]float64
	dose         map[fleet.Engine]float64
	orvr         map[int]float64
	requirements map[requirementKey][]RequirementEntry
	damages      map[damageKey]float64
}

type fuelKey struct{ year, fuelType int }

type requirementKey struct {
	engine    fleet.Engine
	option    int
	provision Provision
}

type damageKey struct {
	year      int
	pollutant string
	rate      float64
}

// index builds the lookup tables. It is called by the loader after deflation.
func (r *Reference) index() error {
	r.fuel = make(map[fuelKey]FuelPrice, len(r.FuelPrices))
	for _, p := range r.FuelPrices {
		r.fuel[fuelKey{p.Year, p.FuelTypeID}] = p
	}
	r.def = make(map[int]float64, len(r.DEFPrices))
	for _, p := range r.DEFPrices {
		r.def[p.Year] = p.Price
	}
	r.dose = make(map[fleet.Engine]float64, len(r.DoseRates))
	for _, d := range r.DoseRates {
		r.dose[fleet.Engine{RegClassID: d.RegClassID, FuelTypeID: d.FuelTypeID}] = d.Rate
	}
	r.orvr = make(map[int]float64, len(r.ORVR))
	for _, o := range r.ORVR {
		r.orvr[o.OptionID] = o.MLPerGallon
	}

	r.requirements = make(map[requirementKey][]RequirementEntry)
	for _, e := range r.Requirements {
		if e.Provision != ProvisionWarranty && e.Provision != ProvisionUsefulLife {
			return bcaerrors.NewInputError("requirement", fmt.Sprintf("unknown provision %q", e.Provision))
		}
		k := requirementKey{fleet.Engine{RegClassID: e.RegClassID, FuelTypeID: e.FuelTypeID}, e.OptionID, e.Provision}
		r.requirements[k] = append(r.requirements[k], e)
	}
	for k := range r.requirements {
		rows := r.requirements[k]
		sort.Slice(rows, func(i, j int) bool { return rows[i].ModelYear < rows[j].ModelYear })
	}

	r.damages = make(map[damageKey]float64, len(r.DamageCosts))
	for _, d := range r.DamageCosts {
		r.damages[damageKey{d.Year, d.Pollutant, d.Rate}] = d.CostPerTon
	}

	for _, f := range r.MarkupFactors {
		switch f.ScaledBy {
		case ScaledByNone, ScaledByWarranty, ScaledByUsefulLife:
		default:
			return bcaerrors.NewInputError("markup factor", fmt.Sprintf("%s: unknown scaled_by %q", f.Name, f.ScaledBy))
		}
	}
	return nil
}

// Fuel returns the price of a fuel in a calendar year.
func (r *Reference) Fuel(year, fuelType int) (FuelPrice, error) {
	p, ok := r.fuel[fuelKey{year, fuelType}]
	if !ok {
		return FuelPrice{}, bcaerrors.NewMissingKeyError("fuel price", fmt.Sprintf("year=%d/fuel=%d", year, fuelType))
	}
	return p, nil
}

// DEF returns the DEF price in a calendar year.
func (r *Reference) DEF(year int) (float64, error) {
	p, ok := r.def[year]
	if !ok {
		return 0, bcaerrors.NewMissingKeyError("DEF price", year)
	}
	return p, nil
}

// DoseRate returns the base DEF dose rate of an engine.
func (r *Reference) DoseRate(e fleet.Engine) (float64, error) {
	d, ok := r.dose[e]
	if !ok {
		return 0, bcaerrors.NewMissingKeyError("DEF dose rate", e)
	}
	return d, nil
}

// GallonsPerTonReduced returns the DEF consumed per ton of NOx reduced.
func (r *Reference) GallonsPerTonReduced() float64 {
	return r.DEFGallonsPerTonReduced
}

// ORVRMilliliters returns the vapor recovered under an option; options
// without an adjustment recover nothing.
func (r *Reference) ORVRMilliliters(option int) float64 {
	return r.orvr[option]
}

// Requirement returns the provision in effect for an engine, option and model
// year. When the model year is not listed the latest earlier entry applies.
func (r *Reference) Requirement(e fleet.Engine, option, modelYear int, p Provision) (Requirement, error) {
	rows := r.requirements[requirementKey{e, option, p}]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].ModelYear > modelYear })
	if i == 0 {
		return Requirement{}, bcaerrors.NewMissingKeyError(string(p)+" requirement",
			fmt.Sprintf("%s/opt=%d/my=%d", e, option, modelYear))
	}
	row := rows[i-1]
	return Requirement{Age: row.Age, Miles: row.Miles}, nil
}

// Damage returns the dollars per ton of a pollutant in a calendar year at a rate.
func (r *Reference) Damage(year int, pollutant string, rate float64) (float64, error) {
	v, ok := r.damages[damageKey{year, pollutant, rate}]
	if !ok {
		return 0, bcaerrors.NewMissingKeyError("damage cost", fmt.Sprintf("year=%d/%s/rate=%g", year, pollutant, rate))
	}
	return v, nil
}

// PackageList converts the package table for the learning model.
func (r *Reference) PackageList() []learning.Package {
	out := make([]learning.Package, 0, len(r.Packages))
	for _, p := range r.Packages {
		steps := make([]learning.Step, 0, len(p.Steps))
		for _, st := range p.Steps {
			pen := 1.0
			if st.Penetration != nil {
				pen = *st.Penetration
			}
			steps = append(steps, learning.Step{Year: st.Year, Cost: st.Cost, Penetration: pen})
		}
		out = append(out, learning.Package{Segment: p.Segment(), OptionID: p.OptionID, Steps: steps})
	}
	return out
}
