// Package damages monetizes tailpipe pollutant emissions.
package damages

import (
	"fmt"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
)

// Pollutants valued by default, mapped to their ton fields.
var Pollutants = map[string]string{
	"PM25": fleet.FieldPM25Tons,
	"NOx":  fleet.FieldNOxTons,
}

// CostSource looks up dollars per ton.
type CostSource interface {
	Damage(year int, pollutant string, rate float64) (float64, error)
}

// Calculator adds one damage-cost field per pollutant and damage rate.
type Calculator struct {
	Costs CostSource
	// Rates are the discount rates the damage values were estimated at.
	Rates  []float64
	Logger zerolog.Logger
}

// Register declares the damage fields in schema and returns their names.
func (c *Calculator) Register(schema *fleet.Schema) []string {
	var names []string
	for pollutant := range Pollutants {
		for _, rate := range c.Rates {
			names = append(names, schema.RegisterDamage(pollutant, rate))
		}
	}
	return names
}

// Apply values the tons of every nominal record. The fields are registered in
// the store's schema as fixed-rate monetary totals.
func (c *Calculator) Apply(fs *fleet.Store) error {
	schema := fs.Schema()
	c.Register(schema)

	var n int
	for _, rec := range fs.NominalRecords() {
		year := rec.Key.CalendarYear()
		for pollutant, tonsField := range Pollutants {
			tons := rec.Get(tonsField)
			for _, rate := range c.Rates {
				perTon, err := c.Costs.Damage(year, pollutant, rate)
				if err != nil {
					return fmt.Errorf("failed to value %s for %s: %w", pollutant, rec.Key, err)
				}
				rec.Set(fleet.DamageField(pollutant, rate), tons*perTon)
			}
		}
		n++
	}
	c.Logger.Info().Int("records", n).Floats64("rates", c.Rates).Msg("computed pollutant damages")
	return nil
}
