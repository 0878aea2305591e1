// Package weighted computes VMT-weighted cost-per-mile figures for each
// vehicle segment, option and model year.
package weighted

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"hdv-bca/decision/fleet"
	bcaerrors "hdv-bca/pkg/errors"
	"hdv-bca/pkg/weighting"
)

// Identifier fields carried on every record.
const (
	IdentSourceTypeID = "SourceTypeID"
	IdentRegClassID   = "RegClassID"
	IdentFuelTypeID   = "FuelTypeID"
	IdentOptionName   = "OptionName"
)

// DefaultFields are the per-mile fields averaged when none are configured.
var DefaultFields = []string{fleet.FieldEmissionRepairCostPerMile, fleet.FieldOperatingCostPerMile}

// Key identifies a weighted record. There is no age or rate dimension.
type Key struct {
	Vehicle   fleet.Vehicle
	OptionID  int
	ModelYear int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/opt=%d/my=%d", k.Vehicle, k.OptionID, k.ModelYear)
}

// WithOption returns the same key under another option.
func (k Key) WithOption(optionID int) Key {
	k.OptionID = optionID
	return k
}

// Record holds identifier strings and weighted numeric values.
type Record struct {
	Key         Key
	Identifiers map[string]string
	Values      map[string]float64
}

// NewRecord creates a record with the segment identifiers filled in.
func NewRecord(key Key, optionName string) *Record {
	return &Record{
		Key: key,
		Identifiers: map[string]string{
			IdentSourceTypeID: strconv.Itoa(key.Vehicle.SourceTypeID),
			IdentRegClassID:   strconv.Itoa(key.Vehicle.RegClassID),
			IdentFuelTypeID:   strconv.Itoa(key.Vehicle.FuelTypeID),
			IdentOptionName:   optionName,
		},
		Values: make(map[string]float64),
	}
}

// Get returns a field value; absent fields read as 0.
func (r *Record) Get(field string) float64 { return r.Values[field] }

// Store holds weighted records in insertion order.
type Store struct {
	records map[Key]*Record
	order   []Key
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[Key]*Record)}
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.order) }

// Put inserts or replaces a record.
func (s *Store) Put(r *Record) {
	if _, exists := s.records[r.Key]; !exists {
		s.order = append(s.order, r.Key)
	}
	s.records[r.Key] = r
}

// Lookup returns the record at k, if any.
func (s *Store) Lookup(k Key) (*Record, bool) {
	r, ok := s.records[k]
	return r, ok
}

// Get returns the record at k or a missing-key error.
func (s *Store) Get(k Key) (*Record, error) {
	r, ok := s.records[k]
	if !ok {
		return nil, bcaerrors.NewMissingKeyError("weighted cost-per-mile record", k)
	}
	return r, nil
}

// Records returns the records in insertion order.
func (s *Store) Records() []*Record {
	out := make([]*Record, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.records[k])
	}
	return out
}

// Calculator averages per-mile fields over the early ages of each model year.
type Calculator struct {
	// MaxAge is the oldest age included in the average.
	MaxAge int
	Fields []string
	Logger zerolog.Logger
}

// Build computes, for every nominal vehicle record with age <= MaxAge, the
// VMT_PerVeh-weighted average of each configured per-mile field.
// Engine-level records are skipped.
func (c *Calculator) Build(fs *fleet.Store) (*Store, error) {
	if c.MaxAge < 0 {
		return nil, bcaerrors.NewConfigError("weighted.max_age", fmt.Sprintf("must be >= 0, got %d", c.MaxAge))
	}
	fields := c.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}

	acc := make(map[Key]map[string]*weighting.Accumulator)
	var keys []Key
	for _, rec := range fs.NominalRecords() {
		v, ok := rec.Key.Segment.(fleet.Vehicle)
		if !ok || rec.Key.Age > c.MaxAge {
			continue
		}
		k := Key{Vehicle: v, OptionID: rec.Key.OptionID, ModelYear: rec.Key.ModelYear}
		byField, seen := acc[k]
		if !seen {
			byField = make(map[string]*weighting.Accumulator, len(fields))
			for _, f := range fields {
				byField[f] = &weighting.Accumulator{}
			}
			acc[k] = byField
			keys = append(keys, k)
		}
		w := rec.Get(fleet.FieldVMTPerVeh)
		for _, f := range fields {
			byField[f].Add(rec.Get(f), w)
		}
	}

	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.OptionID != b.OptionID {
			return a.OptionID < b.OptionID
		}
		if a.ModelYear != b.ModelYear {
			return a.ModelYear < b.ModelYear
		}
		return a.Vehicle.String() < b.Vehicle.String()
	})

	out := NewStore()
	for _, k := range keys {
		name, _ := fs.OptionName(k.OptionID)
		r := NewRecord(k, name)
		for _, f := range fields {
			r.Values[f] = acc[k][f].Mean()
		}
		out.Put(r)
	}

	c.Logger.Info().
		Int("records", out.Len()).
		Int("max_age", c.MaxAge).
		Msg("computed weighted cost per mile")
	return out, nil
}
