// Package markup computes indirect cost adders as scaled fractions of direct cost.
package markup

import (
	"fmt"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
	"hdv-bca/decision/inputs"
	bcaerrors "hdv-bca/pkg/errors"
)

// ScalingPolicy selects the denominator of the markup scaling ratio.
type ScalingPolicy string

const (
	// PolicyAbsolute compares against a fixed reference model year.
	PolicyAbsolute ScalingPolicy = "absolute"
	// PolicyRelative compares against the model year LookbackYears earlier.
	PolicyRelative ScalingPolicy = "relative"
)

// ScalingMetric selects which side of a provision drives the scaling.
type ScalingMetric string

const (
	MetricMiles ScalingMetric = "miles"
	MetricAge   ScalingMetric = "age"
)

// ProjectMarkupValue scales a markup factor by numerator/denominator.
func ProjectMarkupValue(inputMarkup, numerator, denominator float64) float64 {
	return inputMarkup * (numerator / denominator)
}

// RequirementSource looks up warranty and useful-life provisions.
type RequirementSource interface {
	Requirement(e fleet.Engine, option, modelYear int, p inputs.Provision) (inputs.Requirement, error)
}

// Config holds the scaling settings.
type Config struct {
	Policy        ScalingPolicy `yaml:"scaling_policy"`
	ReferenceYear int           `yaml:"reference_year"`
	LookbackYears int           `yaml:"lookback_years"`
	Metric        ScalingMetric `yaml:"scaling_metric"`
}

// DefaultConfig returns absolute scaling on mileage against 2024.
func DefaultConfig() Config {
	return Config{Policy: PolicyAbsolute, ReferenceYear: 2024, LookbackYears: 1, Metric: MetricMiles}
}

// Validate checks the scaling settings.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyAbsolute:
		if c.ReferenceYear <= 0 {
			return bcaerrors.NewConfigError("markups.reference_year", "required for absolute scaling")
		}
	case PolicyRelative:
		if c.LookbackYears <= 0 {
			return bcaerrors.NewConfigError("markups.lookback_years", "must be positive for relative scaling")
		}
	default:
		return bcaerrors.NewConfigError("markups.scaling_policy", fmt.Sprintf("%q is not one of absolute, relative", c.Policy))
	}
	switch c.Metric {
	case MetricMiles, MetricAge:
	default:
		return bcaerrors.NewConfigError("markups.scaling_metric", fmt.Sprintf("%q is not one of miles, age", c.Metric))
	}
	return nil
}

// Breakdown is the per-vehicle indirect cost by markup factor.
type Breakdown struct {
	Warranty float64
	RnD      float64
	Other    float64
	Profit   float64
}

// Total sums the components.
func (b Breakdown) Total() float64 {
	return b.Warranty + b.RnD + b.Other + b.Profit
}

// Fields maps the breakdown onto per-vehicle fleet fields.
func (b Breakdown) Fields() map[string]float64 {
	return map[string]float64{
		fleet.FieldWarrantyCostPerVeh: b.Warranty,
		fleet.FieldRnDCostPerVeh:      b.RnD,
		fleet.FieldOtherCostPerVeh:    b.Other,
		fleet.FieldProfitCostPerVeh:   b.Profit,
		fleet.FieldIndirectCostPerVeh: b.Total(),
	}
}

// Model applies markup factors to direct cost.
type Model struct {
	Config       Config
	Factors      []inputs.MarkupFactor
	Requirements RequirementSource
	Logger       zerolog.Logger
}

func provisionOf(by inputs.ScaledBy) inputs.Provision {
	if by == inputs.ScaledByUsefulLife {
		return inputs.ProvisionUsefulLife
	}
	return inputs.ProvisionWarranty
}

func (m *Model) metric(req inputs.Requirement) float64 {
	if m.Config.Metric == MetricAge {
		return req.Age
	}
	return req.Miles
}

// Scaler returns the numerator and denominator of the scaling ratio of a
// factor for an engine, option and model year. Unscaled factors return 1, 1.
func (m *Model) Scaler(e fleet.Engine, option, modelYear int, by inputs.ScaledBy) (float64, float64, error) {
	if by == inputs.ScaledByNone {
		return 1, 1, nil
	}
	p := provisionOf(by)

	num, err := m.Requirements.Requirement(e, option, modelYear, p)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get markup scaling numerator: %w", err)
	}

	denomYear := m.Config.ReferenceYear
	if m.Config.Policy == PolicyRelative {
		denomYear = modelYear - m.Config.LookbackYears
	}
	den, err := m.Requirements.Requirement(e, option, denomYear, p)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get markup scaling denominator: %w", err)
	}

	d := m.metric(den)
	if d == 0 {
		return 0, 0, bcaerrors.NewDivideByZeroError("markup scaling", fmt.Sprintf("%s/opt=%d/my=%d", e, option, denomYear))
	}
	return m.metric(num), d, nil
}

// Indirect returns the indirect cost per vehicle for a segment whose direct
// cost per vehicle is directPerVeh.
func (m *Model) Indirect(seg fleet.Segment, option, modelYear int, directPerVeh float64) (Breakdown, error) {
	e := fleet.EngineOf(seg)
	var b Breakdown
	for _, f := range m.Factors {
		num, den, err := m.Scaler(e, option, modelYear, f.ScaledBy)
		if err != nil {
			return Breakdown{}, err
		}
		v := ProjectMarkupValue(f.Value, num, den) * directPerVeh
		switch f.Name {
		case inputs.MarkupWarranty:
			b.Warranty += v
		case inputs.MarkupRnD:
			b.RnD += v
		case inputs.MarkupProfit:
			b.Profit += v
		default:
			b.Other += v
		}
	}
	return b, nil
}

// WarrantyDollars is the warranty liability per vehicle when warranty costs
// are given as dollars per year for a reference engine: the base cost scaled
// by the engine's direct-cost ratio over the estimated warranty age.
func WarrantyDollars(baseCostPerYear, directCostRatio, warrantyAgeYears float64) float64 {
	return baseCostPerYear * directCostRatio * warrantyAgeYears
}
