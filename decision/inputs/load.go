package inputs

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"

	"hdv-bca/pkg/units"
)

// LoadReference reads a reference-data YAML file and restates every monetary
// input in dollarBasisYear dollars.
func LoadReference(path string, dollarBasisYear int) (*Reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference data: %w", err)
	}
	defer f.Close()
	return ParseReference(f, dollarBasisYear)
}

// ParseReference decodes reference data from r. See LoadReference.
func ParseReference(r io.Reader, dollarBasisYear int) (*Reference, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference data: %w", err)
	}
	var ref Reference
	if err := yaml.UnmarshalStrict(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to parse reference data: %w", err)
	}
	if err := ref.deflate(dollarBasisYear); err != nil {
		return nil, err
	}
	if err := ref.index(); err != nil {
		return nil, err
	}
	return &ref, nil
}

// deflate converts each monetary input from its own dollar basis to target.
// A zero basis means the value is already in target-year dollars.
func (r *Reference) deflate(target int) error {
	d := units.Deflators(r.Deflators)
	conv := func(what string, v *float64, basis int) error {
		if basis == 0 {
			return nil
		}
		out, err := d.Deflate(*v, basis, target)
		if err != nil {
			return fmt.Errorf("failed to deflate %s: %w", what, err)
		}
		*v = out
		return nil
	}

	for i := range r.FuelPrices {
		p := &r.FuelPrices[i]
		if err := conv("retail fuel price", &p.Retail, p.DollarBasis); err != nil {
			return err
		}
		if err := conv("pretax fuel price", &p.Pretax, p.DollarBasis); err != nil {
			return err
		}
	}
	for i := range r.DEFPrices {
		p := &r.DEFPrices[i]
		if err := conv("DEF price", &p.Price, p.DollarBasis); err != nil {
			return err
		}
	}
	rc := &r.RepairCurve
	for _, v := range []*float64{&rc.InWarranty, &rc.AtUsefulLife, &rc.Max} {
		if err := conv("repair curve anchor", v, rc.DollarBasis); err != nil {
			return err
		}
	}
	if err := conv("warranty base cost", &r.WarrantyBase.CostPerYear, r.WarrantyBase.DollarBasis); err != nil {
		return err
	}
	for i := range r.Packages {
		p := &r.Packages[i]
		for j := range p.Steps {
			if err := conv("package cost", &p.Steps[j].Cost, p.DollarBasis); err != nil {
				return err
			}
		}
	}
	for i := range r.DamageCosts {
		c := &r.DamageCosts[i]
		if err := conv("damage cost", &c.CostPerTon, c.DollarBasis); err != nil {
			return err
		}
	}
	return nil
}
