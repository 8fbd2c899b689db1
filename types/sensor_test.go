package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseValueKind(t *testing.T) {
	assert.Equal(t, KindNumeric, ParseValueKind("DOUBLE"))
	assert.Equal(t, KindText, ParseValueKind("STRING"))
	assert.Equal(t, KindUnknown, ParseValueKind("UNKNOWN"))

	// Unrecognized announcement types degrade to unknown instead of failing
	assert.Equal(t, KindUnknown, ParseValueKind("BOOL"))
	assert.Equal(t, KindUnknown, ParseValueKind(""))
}

func TestValueKind_String(t *testing.T) {
	assert.Equal(t, "DOUBLE", KindNumeric.String())
	assert.Equal(t, "STRING", KindText.String())
	assert.Equal(t, "UNKNOWN", KindUnknown.String())
}

func TestParseQuantity(t *testing.T) {
	assert.Equal(t, QuantityTemperature, ParseQuantity("TEMPERATURE"))
	assert.Equal(t, QuantityVoltage, ParseQuantity("VOLTAGE"))
	assert.Equal(t, QuantityPercent, ParseQuantity("PERCENT"))
	assert.Equal(t, QuantityUnknown, ParseQuantity("HUMIDITY"))

	assert.Equal(t, "VELOCITY", QuantityVelocity.String())
	assert.Equal(t, "UNKNOWN", Quantity(99).String())
}

func TestSensorInfo_JSONWireFormat(t *testing.T) {
	low := 10.5
	info := SensorInfo{
		ID:          "battery_v",
		Name:        "Battery Voltage",
		Kind:        KindNumeric,
		Quantity:    QuantityVoltage,
		Unit:        "V",
		Range:       &Range{Min: 0, Max: 29.4},
		CriticalLow: &low,
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "battery_v", wire["sensor_id"])
	assert.Equal(t, "Battery Voltage", wire["sensor_name"])
	assert.Equal(t, "DOUBLE", wire["value_type"])
	assert.Equal(t, "VOLTAGE", wire["value_description"])
	assert.Equal(t, "V", wire["unit"])
	assert.Equal(t, true, wire["has_min_max"])
	assert.Equal(t, 29.4, wire["max_value"])
	assert.Equal(t, true, wire["has_critical_low"])
	assert.Equal(t, 10.5, wire["lower_critical_value"])
	assert.Equal(t, false, wire["has_critical_high"])
	assert.Equal(t, 0.0, wire["upper_critical_value"])
}

func TestSensorInfo_JSONRoundTrip(t *testing.T) {
	announcement := `{
		"sensor_id": "mow_motor_temp",
		"sensor_name": "Mow Motor Temperature",
		"value_type": "DOUBLE",
		"value_description": "TEMPERATURE",
		"unit": "C",
		"has_min_max": true,
		"min_value": -20,
		"max_value": 100,
		"has_critical_high": true,
		"upper_critical_value": 80
	}`

	var info SensorInfo
	require.NoError(t, json.Unmarshal([]byte(announcement), &info))

	assert.Equal(t, "mow_motor_temp", info.ID)
	assert.Equal(t, KindNumeric, info.Kind)
	assert.Equal(t, QuantityTemperature, info.Quantity)
	require.NotNil(t, info.Range)
	assert.Equal(t, -20.0, info.Range.Min)
	assert.Equal(t, 100.0, info.Range.Max)
	assert.Nil(t, info.CriticalLow)
	require.NotNil(t, info.CriticalHigh)
	assert.Equal(t, 80.0, *info.CriticalHigh)
}

func TestSensorInfo_BSONRoundTrip(t *testing.T) {
	high := 4.2
	info := SensorInfo{
		ID:           "charge_current",
		Name:         "Charge Current",
		Kind:         KindNumeric,
		Quantity:     QuantityCurrent,
		Unit:         "A",
		CriticalHigh: &high,
	}

	data, err := bson.Marshal(info)
	require.NoError(t, err)

	// Presence flags survive the binary encoding
	var raw bson.M
	require.NoError(t, bson.Unmarshal(data, &raw))
	assert.Equal(t, false, raw["has_min_max"])
	assert.Equal(t, true, raw["has_critical_high"])

	var decoded SensorInfo
	require.NoError(t, bson.Unmarshal(data, &decoded))
	assert.Equal(t, info.ID, decoded.ID)
	assert.Equal(t, KindNumeric, decoded.Kind)
	assert.Nil(t, decoded.Range)
	require.NotNil(t, decoded.CriticalHigh)
	assert.Equal(t, 4.2, *decoded.CriticalHigh)
}

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"numeric", NumericValue(21.5), "21.5"},
		{"integer-valued numeric", NumericValue(42), "42"},
		{"text", TextValue("MOWING"), `"MOWING"`},
		{"empty text", TextValue(""), `""`},
		{"nan", NumericValue(math.NaN()), "null"},
		{"infinity", NumericValue(math.Inf(1)), "null"},
		{"zero value", Value{}, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestValue_UnmarshalJSON(t *testing.T) {
	var v Value

	require.NoError(t, json.Unmarshal([]byte("3.14"), &v))
	num, ok := v.Number()
	assert.True(t, ok)
	assert.Equal(t, 3.14, num)

	require.NoError(t, json.Unmarshal([]byte(`"DOCKED"`), &v))
	assert.Equal(t, KindText, v.Kind())
	assert.Equal(t, "DOCKED", v.Text())

	require.NoError(t, json.Unmarshal([]byte("null"), &v))
	assert.True(t, v.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"v": 1}`), &v))
	assert.Error(t, json.Unmarshal([]byte("true"), &v))
}

func TestValue_Text(t *testing.T) {
	assert.Equal(t, "21.5", NumericValue(21.5).Text())
	assert.Equal(t, "1e+06", NumericValue(1000000).Text())
	assert.Equal(t, "DOCKED", TextValue("DOCKED").Text())
	assert.Equal(t, "", Value{}.Text())
}

func TestValue_Any(t *testing.T) {
	assert.Equal(t, 2.5, NumericValue(2.5).Any())
	assert.Equal(t, "idle", TextValue("idle").Any())
	assert.Nil(t, Value{}.Any())
}

func TestSensorReading_JSON(t *testing.T) {
	reading := SensorReading{SensorID: "battery_v", Value: NumericValue(27.1)}

	data, err := json.Marshal(reading)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "battery_v", wire["sensor_id"])
	assert.Equal(t, 27.1, wire["value"])
}
