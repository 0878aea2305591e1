// Package operating computes fuel and DEF consumption and their costs.
package operating

import (
	"fmt"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
	"hdv-bca/decision/inputs"
	"hdv-bca/pkg/units"
)

// PriceSource looks up fuel and DEF prices and consumption parameters.
type PriceSource interface {
	Fuel(year, fuelType int) (inputs.FuelPrice, error)
	DEF(year int) (float64, error)
	DoseRate(e fleet.Engine) (float64, error)
	GallonsPerTonReduced() float64
	ORVRMilliliters(option int) float64
}

// AdjustedGallons removes the fuel recovered by ORVR from gasoline consumption.
func AdjustedGallons(gallons, orvrMLPerGallon float64, fuelType int) float64 {
	if fuelType != fleet.FuelGasoline {
		return gallons
	}
	return gallons - units.MillilitersToGallons(orvrMLPerGallon*gallons)
}

// DEFGallons is the base dose on fuel consumed plus the extra DEF needed for
// the NOx reduced relative to the no-action option.
func DEFGallons(fuelGallons, doseRate, noActionNOxTons, noxTons, gallonsPerTonReduced float64) float64 {
	reduced := noActionNOxTons - noxTons
	if reduced < 0 {
		reduced = 0
	}
	return fuelGallons*doseRate + reduced*gallonsPerTonReduced
}

// Calculator adds fuel and DEF fields to nominal fleet records.
type Calculator struct {
	Prices           PriceSource
	NoActionOptionID int
	Logger           zerolog.Logger
}

// Fuel sets Gallons_Adjusted, FuelCost_Retail and FuelCost_Pretax on every
// nominal record that carries Gallons.
func (c *Calculator) Fuel(fs *fleet.Store) error {
	var n int
	for _, rec := range fs.NominalRecords() {
		if !rec.Has(fleet.FieldGallons) {
			continue
		}
		k := rec.Key
		price, err := c.Prices.Fuel(k.CalendarYear(), k.Segment.FuelType())
		if err != nil {
			return fmt.Errorf("failed to price fuel for %s: %w", k, err)
		}
		gallons := AdjustedGallons(rec.Get(fleet.FieldGallons), c.Prices.ORVRMilliliters(k.OptionID), k.Segment.FuelType())
		rec.Set(fleet.FieldGallonsAdjusted, gallons)
		rec.Set(fleet.FieldFuelCostRetail, gallons*price.Retail)
		rec.Set(fleet.FieldFuelCostPretax, gallons*price.Pretax)
		n++
	}
	c.Logger.Info().Int("records", n).Msg("computed fuel costs")
	return nil
}

// DEF sets DEFGallons and DEFCost on every nominal diesel record. Other
// fuels get zero DEF so every record carries the fields.
func (c *Calculator) DEF(fs *fleet.Store) error {
	var n int
	for _, rec := range fs.NominalRecords() {
		k := rec.Key
		if k.Segment.FuelType() != fleet.FuelDiesel {
			rec.Set(fleet.FieldDEFGallons, 0)
			rec.Set(fleet.FieldDEFCost, 0)
			continue
		}
		dose, err := c.Prices.DoseRate(fleet.EngineOf(k.Segment))
		if err != nil {
			return fmt.Errorf("failed to compute DEF for %s: %w", k, err)
		}
		noActionNOx := rec.Get(fleet.FieldNOxTons)
		if k.OptionID != c.NoActionOptionID {
			base, err := fs.Get(k.WithOption(c.NoActionOptionID))
			if err != nil {
				return fmt.Errorf("failed to compute DEF for %s: %w", k, err)
			}
			noActionNOx = base.Get(fleet.FieldNOxTons)
		}
		price, err := c.Prices.DEF(k.CalendarYear())
		if err != nil {
			return fmt.Errorf("failed to price DEF for %s: %w", k, err)
		}
		gallons := DEFGallons(rec.Get(fleet.FieldGallons), dose, noActionNOx, rec.Get(fleet.FieldNOxTons), c.Prices.GallonsPerTonReduced())
		rec.Set(fleet.FieldDEFGallons, gallons)
		rec.Set(fleet.FieldDEFCost, gallons*price)
		n++
	}
	c.Logger.Info().Int("records", n).Msg("computed DEF costs")
	return nil
}
