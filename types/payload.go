package types

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// TimestampLayout is the wire timestamp: ISO-8601 UTC with a literal Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in the wire layout.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) { return time.Parse(TimestampLayout, s) }

// Envelope is the top-level wire document for both topics.
type Envelope[T any] struct {
	Data      T      `json:"data"`
	Timestamp string `json:"timestamp"`
}

type AlertData struct {
	PowerStatus int `json:"power_status"`
}

type TelemetryData struct {
	Temperature Reading `json:"temperature"`
	Humidity    Reading `json:"humidity"`
	PowerStatus int     `json:"power_status"`
}

type (
	AlertPayload     = Envelope[AlertData]
	TelemetryPayload = Envelope[TelemetryData]
)

// NewAlert builds an alert payload stamped at t.
func NewAlert(powerStatus int, t time.Time) AlertPayload {
	return AlertPayload{Data: AlertData{PowerStatus: powerStatus}, Timestamp: FormatTimestamp(t)}
}

// NewTelemetry builds a telemetry payload stamped at t.
func NewTelemetry(temp, hum float64, powerStatus int, t time.Time) TelemetryPayload {
	return TelemetryPayload{
		Data: TelemetryData{
			Temperature: Reading(temp),
			Humidity:    Reading(hum),
			PowerStatus: powerStatus,
		},
		Timestamp: FormatTimestamp(t),
	}
}

// Reading is a sensor value. It encodes as the shortest decimal that
// round-trips to the same float64, and NaN (sensor failure) encodes as null.
type Reading float64

func (r Reading) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Reading(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Reading(f)
	return nil
}

// Valid reports whether the reading carries a measurement.
func (r Reading) Valid() bool { return !math.IsNaN(float64(r)) }
