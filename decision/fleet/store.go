package fleet

import (
	"sort"

	bcaerrors "hdv-bca/pkg/errors"
)

// SliceKey groups records that share an option, calendar year and rate.
type SliceKey struct {
	OptionID     int
	CalendarYear int
	Rate         float64
}

// Store is the per-run collection of fleet records. It is not safe for
// concurrent mutation; each run builds its own.
type Store struct {
	schema  *Schema
	records map[Key]*Record
	order   []Key
	options map[int]string

	index map[SliceKey][]*Record
	dirty bool
}

// NewStore creates an empty store bound to a schema. A nil schema uses DefaultSchema.
func NewStore(schema *Schema) *Store {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Store{
		schema:  schema,
		records: make(map[Key]*Record),
		options: make(map[int]string),
		dirty:   true,
	}
}

// Schema returns the field declarations for this store.
func (s *Store) Schema() *Schema { return s.schema }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.order) }

// Put inserts or replaces a record.
func (s *Store) Put(r *Record) {
	if _, exists := s.records[r.Key]; !exists {
		s.order = append(s.order, r.Key)
	}
	s.records[r.Key] = r
	if _, named := s.options[r.Key.OptionID]; !named && r.OptionName != "" {
		s.options[r.Key.OptionID] = r.OptionName
	}
	s.dirty = true
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
		return nil, bcaerrors.NewMissingKeyError("fleet record", k)
	}
	return r, nil
}

// Merge adds fields to an existing record.
func (s *Store) Merge(k Key, values map[string]float64) error {
	r, err := s.Get(k)
	if err != nil {
		return err
	}
	for f, v := range values {
		r.Values[f] = v
	}
	return nil
}

// Records returns the records in insertion order.
func (s *Store) Records() []*Record {
	out := make([]*Record, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.records[k])
	}
	return out
}

// NominalRecords returns the rate-0 records in insertion order.
func (s *Store) NominalRecords() []*Record {
	out := make([]*Record, 0, len(s.order))
	for _, k := range s.order {
		if k.Rate == 0 {
			out = append(out, s.records[k])
		}
	}
	return out
}

// SetOptionName registers the display name of an option.
func (s *Store) SetOptionName(id int, name string) {
	s.options[id] = name
}

// OptionName returns the display name of an option.
func (s *Store) OptionName(id int) (string, bool) {
	name, ok := s.options[id]
	return name, ok
}

// Options returns the option IDs present in the store, sorted.
func (s *Store) Options() []int {
	seen := make(map[int]bool)
	for _, k := range s.order {
		seen[k.OptionID] = true
	}
	return sortedInts(seen)
}

// Rates returns the discount rates present in the store, sorted.
func (s *Store) Rates() []float64 {
	seen := make(map[float64]bool)
	for _, k := range s.order {
		seen[k.Rate] = true
	}
	out := make([]float64, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Float64s(out)
	return out
}

// CalendarYears returns the calendar years present in the store, sorted.
func (s *Store) CalendarYears() []int {
	seen := make(map[int]bool)
	for _, k := range s.order {
		seen[k.CalendarYear()] = true
	}
	return sortedInts(seen)
}

// ModelYears returns the model years present in the store, sorted.
func (s *Store) ModelYears() []int {
	seen := make(map[int]bool)
	for _, k := range s.order {
		seen[k.ModelYear] = true
	}
	return sortedInts(seen)
}

// Segments returns the distinct segments in first-seen order.
func (s *Store) Segments() []Segment {
	seen := make(map[Segment]bool)
	var out []Segment
	for _, k := range s.order {
		if !seen[k.Segment] {
			seen[k.Segment] = true
			out = append(out, k.Segment)
		}
	}
	return out
}

// Slice returns every record for an (option, calendar year, rate) triple.
// The index is built once and rebuilt only after the store changes.
func (s *Store) Slice(optionID, calendarYear int, rate float64) []*Record {
	if s.dirty {
		s.reindex()
	}
	return s.index[SliceKey{OptionID: optionID, CalendarYear: calendarYear, Rate: rate}]
}

func (s *Store) reindex() {
	s.index = make(map[SliceKey][]*Record)
	for _, k := range s.order {
		sk := SliceKey{OptionID: k.OptionID, CalendarYear: k.CalendarYear(), Rate: k.Rate}
		s.index[sk] = append(s.index[sk], s.records[k])
	}
	s.dirty = false
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
