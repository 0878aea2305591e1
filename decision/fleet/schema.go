package fleet

import (
	"fmt"
	"sort"
	"strconv"
)

// Metric tells whether a field is an additive total or a per-unit value.
type Metric int

const (
	MetricTotal Metric = iota
	MetricPerUnit
)

// RatePolicy selects the discount rate applied to a monetary field.
type RatePolicy struct {
	// Fixed fields always use Value regardless of the record's social rate.
	Fixed bool
	Value float64
}

// SocialRate is the policy for fields discounted at the record's own rate.
var SocialRate = RatePolicy{}

// FixedRate returns a policy pinned to rate.
func FixedRate(rate float64) RatePolicy {
	return RatePolicy{Fixed: true, Value: rate}
}

// Resolve returns the rate to apply for a record at social rate r.
func (p RatePolicy) Resolve(r float64) float64 {
	if p.Fixed {
		return p.Value
	}
	return r
}

// FieldSpec declares how a field is discounted, summed and annualized.
type FieldSpec struct {
	Name     string
	Monetary bool
	Metric   Metric
	Rate     RatePolicy
}

// Field names produced by the pipeline.
const (
	FieldVPOP            = "VPOP"
	FieldVMT             = "VMT"
	FieldVMTPerVeh       = "VMT_PerVeh"
	FieldGallons         = "Gallons"
	FieldGallonsAdjusted = "Gallons_Adjusted"
	FieldDEFGallons      = "DEFGallons"
	FieldSourceHours     = "SourceHours"
	FieldNOxTons         = "NOx_UStons"
	FieldPM25Tons        = "PM25_UStons"
	FieldTHCTons         = "THC_UStons"

	FieldDirectCost                = "DirectCost"
	FieldDirectCostPerVeh          = "DirectCost_PerVeh"
	FieldWarrantyCost              = "WarrantyCost"
	FieldWarrantyCostPerVeh        = "WarrantyCost_PerVeh"
	FieldRnDCost                   = "RnDCost"
	FieldRnDCostPerVeh             = "RnDCost_PerVeh"
	FieldOtherCost                 = "OtherCost"
	FieldOtherCostPerVeh           = "OtherCost_PerVeh"
	FieldProfitCost                = "ProfitCost"
	FieldProfitCostPerVeh          = "ProfitCost_PerVeh"
	FieldIndirectCost              = "IndirectCost"
	FieldIndirectCostPerVeh        = "IndirectCost_PerVeh"
	FieldTechCost                  = "TechCost"
	FieldTechCostPerVeh            = "TechCost_PerVeh"
	FieldEmissionRepairCost        = "EmissionRepairCost"
	FieldEmissionRepairCostPerVeh  = "EmissionRepairCost_PerVeh"
	FieldEmissionRepairCostPerMile = "EmissionRepairCost_PerMile"
	FieldFuelCostRetail            = "FuelCost_Retail"
	FieldFuelCostPretax            = "FuelCost_Pretax"
	FieldDEFCost                   = "DEFCost"
	FieldOperatingCost             = "OperatingCost"
	FieldOperatingCostPerVeh       = "OperatingCost_PerVeh"
	FieldOperatingCostPerMile      = "OperatingCost_PerMile"
	FieldTechAndOperatingCost      = "TechAndOperatingCost"
)

// DamageField names the damage-cost field of a pollutant valued at a fixed rate,
// e.g. DamageField("PM25", 0.03) == "PM25Cost_tailpipe_0.03".
func DamageField(pollutant string, rate float64) string {
	return fmt.Sprintf("%sCost_tailpipe_%s", pollutant, strconv.FormatFloat(rate, 'f', -1, 64))
}

// Schema is the set of declared fields for one run.
type Schema struct {
	specs map[string]FieldSpec
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{specs: make(map[string]FieldSpec)}
}

// DefaultSchema declares the physical and cost fields produced by the pipeline.
func DefaultSchema() *Schema {
	s := NewSchema()
	for _, name := range []string{
		FieldVPOP, FieldVMT, FieldGallons, FieldGallonsAdjusted, FieldDEFGallons,
		FieldSourceHours, FieldNOxTons, FieldPM25Tons, FieldTHCTons,
	} {
		s.Register(FieldSpec{Name: name, Metric: MetricTotal})
	}
	s.Register(FieldSpec{Name: FieldVMTPerVeh, Metric: MetricPerUnit})

	for _, name := range []string{
		FieldDirectCost, FieldWarrantyCost, FieldRnDCost, FieldOtherCost, FieldProfitCost,
		FieldIndirectCost, FieldTechCost, FieldEmissionRepairCost, FieldFuelCostRetail,
		FieldFuelCostPretax, FieldDEFCost, FieldOperatingCost, FieldTechAndOperatingCost,
	} {
		s.Register(FieldSpec{Name: name, Monetary: true, Metric: MetricTotal, Rate: SocialRate})
	}
	for _, name := range []string{
		FieldDirectCostPerVeh, FieldWarrantyCostPerVeh, FieldRnDCostPerVeh, FieldOtherCostPerVeh,
		FieldProfitCostPerVeh, FieldIndirectCostPerVeh, FieldTechCostPerVeh,
		FieldEmissionRepairCostPerVeh, FieldEmissionRepairCostPerMile,
		FieldOperatingCostPerVeh, FieldOperatingCostPerMile,
	} {
		s.Register(FieldSpec{Name: name, Monetary: true, Metric: MetricPerUnit, Rate: SocialRate})
	}
	return s
}

// Register adds or replaces a field declaration.
func (s *Schema) Register(spec FieldSpec) {
	s.specs[spec.Name] = spec
}

// RegisterDamage declares a pollutant damage-cost total pinned to rate.
func (s *Schema) RegisterDamage(pollutant string, rate float64) string {
	name := DamageField(pollutant, rate)
	s.Register(FieldSpec{Name: name, Monetary: true, Metric: MetricTotal, Rate: FixedRate(rate)})
	return name
}

// Lookup returns the declaration of a field.
func (s *Schema) Lookup(name string) (FieldSpec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

// IsMonetary reports whether the field is a declared dollar value.
func (s *Schema) IsMonetary(name string) bool {
	spec, ok := s.specs[name]
	return ok && spec.Monetary
}

// IsTotal reports whether the field is a declared additive total.
func (s *Schema) IsTotal(name string) bool {
	spec, ok := s.specs[name]
	return ok && spec.Metric == MetricTotal
}

// Fields returns the declared field names in sorted order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.specs))
	for n := range s.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
