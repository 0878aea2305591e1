// Package fleet holds per-segment annual activity and cost records.
package fleet

import "fmt"

// Fuel type identifiers used by the activity data.
const (
	FuelGasoline    = 1
	FuelDiesel      = 2
	FuelCNG         = 3
	FuelElectricity = 9
)

// Segment identifies a homogeneous group of vehicles or engines.
type Segment interface {
	RegClass() int
	FuelType() int
	// Matches reports whether costs defined on this segment apply to s.
	Matches(s Segment) bool
	String() string
}

// Engine is an engine-level segment (regulatory class and fuel).
type Engine struct {
	RegClassID int `json:"reg_class_id" yaml:"reg_class_id"`
	FuelTypeID int `json:"fuel_type_id" yaml:"fuel_type_id"`
}

func (e Engine) RegClass() int { return e.RegClassID }
func (e Engine) FuelType() int { return e.FuelTypeID }

func (e Engine) Matches(s Segment) bool {
	return s.RegClass() == e.RegClassID && s.FuelType() == e.FuelTypeID
}

func (e Engine) String() string {
	return fmt.Sprintf("engine(rc=%d,ft=%d)", e.RegClassID, e.FuelTypeID)
}

// Vehicle is a full vehicle segment (source type, regulatory class and fuel).
type Vehicle struct {
	SourceTypeID int `json:"source_type_id" yaml:"source_type_id"`
	RegClassID   int `json:"reg_class_id" yaml:"reg_class_id"`
	FuelTypeID   int `json:"fuel_type_id" yaml:"fuel_type_id"`
}

func (v Vehicle) RegClass() int { return v.RegClassID }
func (v Vehicle) FuelType() int { return v.FuelTypeID }

// Engine reduces the vehicle to its engine segment.
func (v Vehicle) Engine() Engine {
	return Engine{RegClassID: v.RegClassID, FuelTypeID: v.FuelTypeID}
}

func (v Vehicle) Matches(s Segment) bool {
	other, ok := s.(Vehicle)
	return ok && other == v
}

// EngineOf reduces any segment to its engine segment.
func EngineOf(s Segment) Engine {
	return Engine{RegClassID: s.RegClass(), FuelTypeID: s.FuelType()}
}

// SourceTypeOf returns the source type of a vehicle segment, or 0 for engine segments.
func SourceTypeOf(s Segment) int {
	if v, ok := s.(Vehicle); ok {
		return v.SourceTypeID
	}
	return 0
}

func (v Vehicle) String() string {
	return fmt.Sprintf("vehicle(st=%d,rc=%d,ft=%d)", v.SourceTypeID, v.RegClassID, v.FuelTypeID)
}
