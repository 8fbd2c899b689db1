package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// ValueKind identifies the payload type a sensor emits
type ValueKind int

const (
	// KindUnknown marks a sensor whose payload type was not recognized
	KindUnknown ValueKind = iota
	// KindNumeric marks sensors emitting floating-point readings
	KindNumeric
	// KindText marks sensors emitting string readings
	KindText
)

// Wire names for ValueKind, as emitted by sensor announcements
const (
	kindUnknownWire = "UNKNOWN"
	kindNumericWire = "DOUBLE"
	kindTextWire    = "STRING"
)

// String returns the announcement wire name
func (k ValueKind) String() string {
	switch k {
	case KindNumeric:
		return kindNumericWire
	case KindText:
		return kindTextWire
	default:
		return kindUnknownWire
	}
}

// ParseValueKind maps an announcement wire name to a ValueKind.
// Unrecognized names map to KindUnknown.
func ParseValueKind(s string) ValueKind {
	switch s {
	case kindNumericWire:
		return KindNumeric
	case kindTextWire:
		return KindText
	default:
		return KindUnknown
	}
}

// Quantity is the semantic tag describing what a sensor measures
type Quantity int

const (
	QuantityUnknown Quantity = iota
	QuantityTemperature
	QuantityVelocity
	QuantityAcceleration
	QuantityVoltage
	QuantityCurrent
	QuantityPercent
)

var quantityWire = map[Quantity]string{
	QuantityUnknown:      "UNKNOWN",
	QuantityTemperature:  "TEMPERATURE",
	QuantityVelocity:     "VELOCITY",
	QuantityAcceleration: "ACCELERATION",
	QuantityVoltage:      "VOLTAGE",
	QuantityCurrent:      "CURRENT",
	QuantityPercent:      "PERCENT",
}

// String returns the announcement wire name
func (q Quantity) String() string {
	if s, ok := quantityWire[q]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseQuantity maps an announcement wire name to a Quantity.
// Unrecognized names map to QuantityUnknown.
func ParseQuantity(s string) Quantity {
	for q, wire := range quantityWire {
		if wire == s {
			return q
		}
	}
	return QuantityUnknown
}

// Range bounds the expected value interval of a numeric sensor
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SensorInfo describes one discovered sensor. The wire format (JSON and
// BSON) is the flat announcement layout with has_* presence booleans; the
// Go representation uses optional pointers instead.
type SensorInfo struct {
	ID           string
	Name         string
	Kind         ValueKind
	Quantity     Quantity
	Unit         string
	Range        *Range   // nil when the sensor declares no min/max
	CriticalLow  *float64 // nil when no lower critical threshold
	CriticalHigh *float64 // nil when no upper critical threshold
}

// sensorInfoWire is the flat announcement layout shared by JSON and BSON
type sensorInfoWire struct {
	ID              string  `json:"sensor_id" bson:"sensor_id"`
	Name            string  `json:"sensor_name" bson:"sensor_name"`
	ValueType       string  `json:"value_type" bson:"value_type"`
	Quantity        string  `json:"value_description" bson:"value_description"`
	Unit            string  `json:"unit" bson:"unit"`
	HasMinMax       bool    `json:"has_min_max" bson:"has_min_max"`
	MinValue        float64 `json:"min_value" bson:"min_value"`
	MaxValue        float64 `json:"max_value" bson:"max_value"`
	HasCriticalLow  bool    `json:"has_critical_low" bson:"has_critical_low"`
	LowerCritical   float64 `json:"lower_critical_value" bson:"lower_critical_value"`
	HasCriticalHigh bool    `json:"has_critical_high" bson:"has_critical_high"`
	UpperCritical   float64 `json:"upper_critical_value" bson:"upper_critical_value"`
}

func (s SensorInfo) wire() sensorInfoWire {
	w := sensorInfoWire{
		ID:        s.ID,
		Name:      s.Name,
		ValueType: s.Kind.String(),
		Quantity:  s.Quantity.String(),
		Unit:      s.Unit,
	}
	if s.Range != nil {
		w.HasMinMax = true
		w.MinValue = s.Range.Min
		w.MaxValue = s.Range.Max
	}
	if s.CriticalLow != nil {
		w.HasCriticalLow = true
		w.LowerCritical = *s.CriticalLow
	}
	if s.CriticalHigh != nil {
		w.HasCriticalHigh = true
		w.UpperCritical = *s.CriticalHigh
	}
	return w
}

func (s *SensorInfo) fromWire(w sensorInfoWire) {
	s.ID = w.ID
	s.Name = w.Name
	s.Kind = ParseValueKind(w.ValueType)
	s.Quantity = ParseQuantity(w.Quantity)
	s.Unit = w.Unit

	s.Range = nil
	if w.HasMinMax {
		s.Range = &Range{Min: w.MinValue, Max: w.MaxValue}
	}

	s.CriticalLow = nil
	if w.HasCriticalLow {
		low := w.LowerCritical
		s.CriticalLow = &low
	}

	s.CriticalHigh = nil
	if w.HasCriticalHigh {
		high := w.UpperCritical
		s.CriticalHigh = &high
	}
}

// MarshalJSON implements json.Marshaler using the announcement layout
func (s SensorInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

// UnmarshalJSON implements json.Unmarshaler
func (s *SensorInfo) UnmarshalJSON(data []byte) error {
	var w sensorInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.fromWire(w)
	return nil
}

// MarshalBSON implements bson.Marshaler using the announcement layout
func (s SensorInfo) MarshalBSON() ([]byte, error) {
	return bson.Marshal(s.wire())
}

// UnmarshalBSON implements bson.Unmarshaler
func (s *SensorInfo) UnmarshalBSON(data []byte) error {
	var w sensorInfoWire
	if err := bson.Unmarshal(data, &w); err != nil {
		return err
	}
	s.fromWire(w)
	return nil
}

// Value is a sensor reading payload: either a number or a string.
// The zero Value has KindUnknown and renders empty.
type Value struct {
	kind ValueKind
	num  float64
	text string
}

// NumericValue creates a numeric Value
func NumericValue(f float64) Value {
	return Value{kind: KindNumeric, num: f}
}

// TextValue creates a text Value
func TextValue(s string) Value {
	return Value{kind: KindText, text: s}
}

// Kind returns the payload type
func (v Value) Kind() ValueKind {
	return v.kind
}

// Number returns the numeric payload and whether the value is numeric
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumeric
}

// IsZero reports whether the value carries no payload
func (v Value) IsZero() bool {
	return v.kind == KindUnknown
}

// Any returns the payload as float64, string, or nil for the zero Value
func (v Value) Any() any {
	switch v.kind {
	case KindNumeric:
		return v.num
	case KindText:
		return v.text
	default:
		return nil
	}
}

// Text renders the plain-text form published on raw data topics
func (v Value) Text() string {
	switch v.kind {
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// MarshalJSON encodes the value as a bare JSON scalar.
// Non-finite numbers encode as null since JSON has no representation for them.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumeric:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a bare JSON number or string
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case float64:
		*v = NumericValue(val)
		return nil
	case string:
		*v = TextValue(val)
		return nil
	case nil:
		*v = Value{}
		return nil
	default:
		return fmt.Errorf("sensor value must be a number or string, got %T", raw)
	}
}

// SensorReading is a timestamped sensor value
type SensorReading struct {
	SensorID string    `json:"sensor_id"`
	Value    Value     `json:"value"`
	At       time.Time `json:"at"`
}
