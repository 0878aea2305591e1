package fleet

import "fmt"

// Key identifies one fleet record. Rate 0 holds nominal values; any other rate
// holds the discounted copy of the same segment.
type Key struct {
	Segment   Segment
	OptionID  int
	ModelYear int
	Age       int
	Rate      float64
}

// CalendarYear is the year the record's activity occurs.
func (k Key) CalendarYear() int {
	return k.ModelYear + k.Age
}

// WithRate returns the same key at another discount rate.
func (k Key) WithRate(rate float64) Key {
	k.Rate = rate
	return k
}

// WithOption returns the same key under another option.
func (k Key) WithOption(optionID int) Key {
	k.OptionID = optionID
	return k
}

func (k Key) String() string {
	return fmt.Sprintf("%s/opt=%d/my=%d/age=%d/rate=%g", k.Segment, k.OptionID, k.ModelYear, k.Age, k.Rate)
}

// Record holds the numeric fields of one fleet segment-year.
type Record struct {
	Key        Key
	OptionName string
	Values     map[string]float64
}

// NewRecord creates an empty record.
func NewRecord(key Key, optionName string) *Record {
	return &Record{Key: key, OptionName: optionName, Values: make(map[string]float64)}
}

// Get returns a field value; absent fields read as 0.
func (r *Record) Get(field string) float64 {
	return r.Values[field]
}

// Set assigns a field value.
func (r *Record) Set(field string, v float64) {
	r.Values[field] = v
}

// Add increments a field value.
func (r *Record) Add(field string, v float64) {
	r.Values[field] += v
}

// Has reports whether the field is present.
func (r *Record) Has(field string) bool {
	_, ok := r.Values[field]
	return ok
}

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	out := &Record{Key: r.Key, OptionName: r.OptionName, Values: make(map[string]float64, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}
