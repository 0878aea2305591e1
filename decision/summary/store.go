// Package summary aggregates fleet records into per-option annual, present
// and annualized value series.
package summary

import (
	"fmt"
	"sort"

	bcaerrors "hdv-bca/pkg/errors"
)

// Series names one of the three summary series.
type Series string

const (
	AnnualValue     Series = "AnnualValue"
	PresentValue    Series = "PresentValue"
	AnnualizedValue Series = "AnnualizedValue"
)

// Key identifies one summary record.
type Key struct {
	Series       Series
	OptionID     int
	CalendarYear int
	Rate         float64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/opt=%d/year=%d/rate=%g", k.Series, k.OptionID, k.CalendarYear, k.Rate)
}

// WithOption returns the same key under another option.
func (k Key) WithOption(optionID int) Key {
	k.OptionID = optionID
	return k
}

// Record is one row of a summary series.
type Record struct {
	Key        Key
	OptionName string
	Periods    int
	Values     map[string]float64
}

// NewRecord creates a record with the default single period.
func NewRecord(key Key, optionName string) *Record {
	return &Record{Key: key, OptionName: optionName, Periods: 1, Values: make(map[string]float64)}
}

// Get returns a field value; absent fields read as 0.
func (r *Record) Get(field string) float64 { return r.Values[field] }

// Store is an append-only collection of summary records.
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

// PutAll inserts or replaces each record.
func (s *Store) PutAll(rs []*Record) {
	for _, r := range rs {
		s.Put(r)
	}
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
		return nil, bcaerrors.NewMissingKeyError("summary record", k)
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

// Series returns the records of one series sorted by rate, option and year.
func (s *Store) Series(series Series) []*Record {
	var out []*Record
	for _, k := range s.order {
		if k.Series == series {
			out = append(out, s.records[k])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Rate != b.Rate {
			return a.Rate < b.Rate
		}
		if a.OptionID != b.OptionID {
			return a.OptionID < b.OptionID
		}
		return a.CalendarYear < b.CalendarYear
	})
	return out
}
