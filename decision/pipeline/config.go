// Package pipeline runs a complete benefit-cost analysis over one fleet.
package pipeline

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"hdv-bca/decision/delta"
	"hdv-bca/decision/discount"
	"hdv-bca/decision/markup"
	bcaerrors "hdv-bca/pkg/errors"
	"hdv-bca/pkg/platform"
)

// WarrantyApproach selects how warranty costs and repair costs are modeled.
type WarrantyApproach string

const (
	// WarrantyMarkup prices warranty as a markup factor on direct cost.
	WarrantyMarkup WarrantyApproach = "markup"
	// WarrantyDollarsPerYear prices warranty from a reference engine's annual cost.
	WarrantyDollarsPerYear WarrantyApproach = "dollars_per_year"
	// WarrantyRepairSplit charges in-warranty repairs to the manufacturer,
	// accrued at sale, and the rest to the owner.
	WarrantyRepairSplit WarrantyApproach = "repair_split"
)

// RepairBasis selects the activity emission-repair costs are rated on.
type RepairBasis string

const (
	RepairPerMile RepairBasis = "mile"
	RepairPerHour RepairBasis = "hour"
)

// DiscountingConfig controls the discounting stage.
type DiscountingConfig struct {
	Enabled     bool      `yaml:"enabled" json:"enabled"`
	SocialRates []float64 `yaml:"social_rates" json:"social_rates"`
	Timing      string    `yaml:"timing" json:"timing"`
	BaseYear    int       `yaml:"base_year" json:"base_year"`
}

// LearningConfig parameterizes the learning curve.
type LearningConfig struct {
	SeedVolumeFactor float64 `yaml:"seed_volume_factor" json:"seed_volume_factor"`
	LearningRate     float64 `yaml:"learning_rate" json:"learning_rate"`
}

// RepairConfig parameterizes the emission-repair curve.
type RepairConfig struct {
	ReferenceRegClassID int         `yaml:"reference_reg_class_id" json:"reference_reg_class_id"`
	ReferenceFuelTypeID int         `yaml:"reference_fuel_type_id" json:"reference_fuel_type_id"`
	EmissionRepairShare float64     `yaml:"emission_repair_share" json:"emission_repair_share"`
	TypicalVMTHorizon   int         `yaml:"typical_vmt_horizon" json:"typical_vmt_horizon"`
	StrictVMTBoundary   bool        `yaml:"strict_vmt_boundary" json:"strict_vmt_boundary"`
	Basis               RepairBasis `yaml:"basis" json:"basis"`
}

// RunConfig is the configuration of one analysis run.
type RunConfig struct {
	RunName          string            `yaml:"run_name" json:"run_name"`
	Options          map[int]string    `yaml:"options" json:"options"`
	NoActionOptionID int               `yaml:"no_action_option_id" json:"no_action_option_id"`
	DollarBasisYear  int               `yaml:"dollar_basis_year" json:"dollar_basis_year"`
	Discounting      DiscountingConfig `yaml:"discounting" json:"discounting"`
	CalcDeltas       bool              `yaml:"calc_deltas" json:"calc_deltas"`
	CalcPollution    bool              `yaml:"calc_pollution_effects" json:"calc_pollution_effects"`
	DamageRates      []float64         `yaml:"damage_rates" json:"damage_rates"`
	Learning         LearningConfig    `yaml:"learning" json:"learning"`
	Markups          markup.Config     `yaml:"markups" json:"markups"`
	WarrantyApproach WarrantyApproach  `yaml:"warranty_cost_approach" json:"warranty_cost_approach"`
	Repair           RepairConfig      `yaml:"repair" json:"repair"`
	WeightedMaxAge   int               `yaml:"weighted_cpm_max_age" json:"weighted_cpm_max_age"`
}

// DefaultConfig returns a two-option configuration discounted at 3% and 7%.
func DefaultConfig() RunConfig {
	return RunConfig{
		RunName:          "hdv-bca",
		Options:          map[int]string{0: "NoAction", 1: "Action"},
		NoActionOptionID: 0,
		DollarBasisYear:  2022,
		Discounting: DiscountingConfig{
			Enabled:     true,
			SocialRates: []float64{0.03, 0.07},
			Timing:      string(discount.TimingStartYear),
			BaseYear:    2027,
		},
		CalcDeltas:       true,
		DamageRates:      []float64{0.03, 0.07},
		Learning:         LearningConfig{SeedVolumeFactor: 1, LearningRate: -0.245},
		Markups:          markup.DefaultConfig(),
		WarrantyApproach: WarrantyMarkup,
		Repair: RepairConfig{
			ReferenceRegClassID: 47,
			ReferenceFuelTypeID: 2,
			EmissionRepairShare: 0.108,
			TypicalVMTHorizon:   5,
			Basis:               RepairPerMile,
		},
		WeightedMaxAge: 5,
	}
}

// LoadConfig reads a YAML run configuration over DefaultConfig and applies
// environment overrides.
func LoadConfig(path string) (RunConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read run config: %w", err)
	}
	// yaml merges into existing maps; the file's options replace the defaults.
	defaults := cfg.Options
	cfg.Options = nil
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse run config: %w", err)
	}
	if cfg.Options == nil {
		cfg.Options = defaults
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides selected settings from BCA_* environment variables.
func (c *RunConfig) ApplyEnv() {
	c.RunName = platform.GetEnv("BCA_RUN_NAME", c.RunName)
	c.Discounting.BaseYear = platform.GetEnvInt("BCA_BASE_YEAR", c.Discounting.BaseYear)
	c.Discounting.Timing = platform.GetEnv("BCA_DISCOUNT_TIMING", c.Discounting.Timing)
	c.Discounting.Enabled = platform.GetEnvBool("BCA_DISCOUNTING", c.Discounting.Enabled)
	c.CalcDeltas = platform.GetEnvBool("BCA_CALC_DELTAS", c.CalcDeltas)
	c.CalcPollution = platform.GetEnvBool("BCA_CALC_POLLUTION", c.CalcPollution)
	c.DollarBasisYear = platform.GetEnvInt("BCA_DOLLAR_BASIS", c.DollarBasisYear)
	c.Learning.LearningRate = platform.GetEnvFloat("BCA_LEARNING_RATE", c.Learning.LearningRate)
	c.WarrantyApproach = WarrantyApproach(platform.GetEnv("BCA_WARRANTY_APPROACH", string(c.WarrantyApproach)))
}

// Timing returns the parsed discounting timing.
func (c RunConfig) Timing() discount.Timing {
	t, _ := discount.ParseTiming(c.Discounting.Timing)
	return t
}

// OptionIDs returns the configured option IDs in ascending order.
func (c RunConfig) OptionIDs() []int {
	ids := make([]int, 0, len(c.Options))
	for id := range c.Options {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Validate fails fast on settings the run cannot proceed with.
func (c RunConfig) Validate() error {
	if len(c.Options) == 0 {
		return bcaerrors.NewConfigError("options", "at least one option is required")
	}
	if _, ok := c.Options[c.NoActionOptionID]; !ok {
		return bcaerrors.NewConfigError("no_action_option_id", fmt.Sprintf("option %d is not configured", c.NoActionOptionID))
	}
	for id := range c.Options {
		if id < 0 {
			return bcaerrors.NewConfigError("options", fmt.Sprintf("negative option id %d", id))
		}
	}
	if c.CalcDeltas {
		if err := delta.CheckOptionIDs(c.OptionIDs(), c.NoActionOptionID); err != nil {
			return err
		}
	}
	if c.DollarBasisYear <= 0 {
		return bcaerrors.NewConfigError("dollar_basis_year", "required")
	}
	if _, err := discount.ParseTiming(c.Discounting.Timing); err != nil {
		return err
	}
	if c.Discounting.Enabled {
		if c.Discounting.BaseYear <= 0 {
			return bcaerrors.NewConfigError("discounting.base_year", "required when discounting is enabled")
		}
		for _, r := range c.Discounting.SocialRates {
			if r < 0 {
				return bcaerrors.NewConfigError("discounting.social_rates", fmt.Sprintf("negative rate %g", r))
			}
		}
	}
	if c.CalcPollution {
		if len(c.DamageRates) == 0 {
			return bcaerrors.NewConfigError("damage_rates", "required when calc_pollution_effects is set")
		}
		for _, r := range c.DamageRates {
			if r <= 0 {
				return bcaerrors.NewConfigError("damage_rates", fmt.Sprintf("rate %g must be positive", r))
			}
		}
	}
	if c.Learning.SeedVolumeFactor < 0 {
		return bcaerrors.NewConfigError("learning.seed_volume_factor", "must be >= 0")
	}
	if err := c.Markups.Validate(); err != nil {
		return err
	}
	switch c.WarrantyApproach {
	case WarrantyMarkup, WarrantyDollarsPerYear, WarrantyRepairSplit:
	default:
		return bcaerrors.NewConfigError("warranty_cost_approach",
			fmt.Sprintf("%q is not one of %s, %s, %s", c.WarrantyApproach, WarrantyMarkup, WarrantyDollarsPerYear, WarrantyRepairSplit))
	}
	switch c.Repair.Basis {
	case RepairPerMile, RepairPerHour:
	default:
		return bcaerrors.NewConfigError("repair.basis", fmt.Sprintf("%q is not one of mile, hour", c.Repair.Basis))
	}
	if c.Repair.TypicalVMTHorizon < 0 {
		return bcaerrors.NewConfigError("repair.typical_vmt_horizon", "must be >= 0")
	}
	if c.Repair.EmissionRepairShare < 0 || c.Repair.EmissionRepairShare > 1 {
		return bcaerrors.NewConfigError("repair.emission_repair_share", "must be within [0,1]")
	}
	if c.WeightedMaxAge < 0 {
		return bcaerrors.NewConfigError("weighted_cpm_max_age", "must be >= 0")
	}
	return nil
}
