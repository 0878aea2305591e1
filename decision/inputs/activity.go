package inputs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hdv-bca/decision/fleet"
	bcaerrors "hdv-bca/pkg/errors"
)

// Activity columns. Identifier columns are required; quantity columns are
// optional and any other column is ignored.
const (
	ColSourceType = "sourceTypeID"
	ColRegClass   = "regClassID"
	ColFuelType   = "fuelTypeID"
	ColOption     = "optionID"
	ColModelYear  = "modelYearID"
	ColAge        = "ageID"
)

var activityFields = map[string]string{
	"VPOP":        fleet.FieldVPOP,
	"VMT":         fleet.FieldVMT,
	"Gallons":     fleet.FieldGallons,
	"SourceHours": fleet.FieldSourceHours,
	"NOx_UStons":  fleet.FieldNOxTons,
	"PM25_UStons": fleet.FieldPM25Tons,
	"THC_UStons":  fleet.FieldTHCTons,
}

// LoadActivity reads a fleet activity CSV file into a new store.
func LoadActivity(path string, schema *fleet.Schema, optionNames map[int]string) (*fleet.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fleet activity: %w", err)
	}
	defer f.Close()
	return ReadActivity(f, schema, optionNames)
}

// ReadActivity parses fleet activity rows. Rows for options absent from
// optionNames are rejected. Duplicate keys are summed.
func ReadActivity(r io.Reader, schema *fleet.Schema, optionNames map[int]string) (*fleet.Store, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet activity header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, c := range []string{ColSourceType, ColRegClass, ColFuelType, ColOption, ColModelYear, ColAge} {
		if _, ok := col[c]; !ok {
			return nil, bcaerrors.NewInputError("fleet activity", "missing column "+c)
		}
	}

	store := fleet.NewStore(schema)
	for id, name := range optionNames {
		store.SetOptionName(id, name)
	}

	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read fleet activity line %d: %w", line, err)
		}

		ids := make(map[string]int, 6)
		for _, c := range []string{ColSourceType, ColRegClass, ColFuelType, ColOption, ColModelYear, ColAge} {
			v, err := strconv.Atoi(strings.TrimSpace(row[col[c]]))
			if err != nil {
				return nil, bcaerrors.NewInputError("fleet activity", fmt.Sprintf("line %d: %s: %v", line, c, err))
			}
			ids[c] = v
		}
		name, ok := optionNames[ids[ColOption]]
		if !ok {
			return nil, bcaerrors.NewInputError("fleet activity", fmt.Sprintf("line %d: option %d is not configured", line, ids[ColOption]))
		}

		key := fleet.Key{
			Segment:   fleet.Vehicle{SourceTypeID: ids[ColSourceType], RegClassID: ids[ColRegClass], FuelTypeID: ids[ColFuelType]},
			OptionID:  ids[ColOption],
			ModelYear: ids[ColModelYear],
			Age:       ids[ColAge],
		}
		rec, exists := store.Lookup(key)
		if !exists {
			rec = fleet.NewRecord(key, name)
			store.Put(rec)
		}
		for c, field := range activityFields {
			i, ok := col[c]
			if !ok {
				continue
			}
			raw := strings.TrimSpace(row[i])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, bcaerrors.NewInputError("fleet activity", fmt.Sprintf("line %d: %s: %v", line, c, err))
			}
			rec.Add(field, v)
		}
	}
	return store, nil
}
