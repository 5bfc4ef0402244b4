package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLocation is returned when geocoding produced no candidates.
	ErrNoLocation = errors.New("no geocoding candidates")

	// ErrNoDataPoints is returned when a snapshot has an empty data sequence.
	ErrNoDataPoints = errors.New("snapshot has no data points")

	// ErrMissingField is returned when the first data point or the first
	// geocoding candidate lacks a required key.
	ErrMissingField = errors.New("required field missing")
)

// Field selects one scalar of a DataPoint.
type Field int

const (
	FieldTemperature Field = iota
	FieldHumidity
	FieldCloudiness
	FieldWindSpeed
)

// Fields lists every extracted field in the order the extractors are started.
var Fields = []Field{FieldTemperature, FieldWindSpeed, FieldHumidity, FieldCloudiness}

// String returns the step-friendly field name, e.g. "temperature".
func (f Field) String() string {
	switch f {
	case FieldTemperature:
		return "temperature"
	case FieldHumidity:
		return "humidity"
	case FieldCloudiness:
		return "cloudiness"
	case FieldWindSpeed:
		return "wind_speed"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Key returns the JSON key of the field in the timemachine payload.
func (f Field) Key() string {
	switch f {
	case FieldTemperature:
		return "temp"
	case FieldHumidity:
		return "humidity"
	case FieldCloudiness:
		return "clouds"
	case FieldWindSpeed:
		return "wind_speed"
	default:
		return ""
	}
}

func (f Field) selectFrom(p DataPoint) *float64 {
	switch f {
	case FieldTemperature:
		return p.Temp
	case FieldHumidity:
		return p.Humidity
	case FieldCloudiness:
		return p.Clouds
	case FieldWindSpeed:
		return p.WindSpeed
	default:
		return nil
	}
}

// Reading is the (timestamp, value) pair produced by one extractor.
type Reading struct {
	Field     Field
	Timestamp int64
	Value     float64
}

// Extract projects the first data point of the snapshot onto one field.
// It never returns a default value: an empty sequence or an absent key is an error.
func Extract(snapshot WeatherSnapshot, field Field) (Reading, error) {
	if len(snapshot.Data) == 0 {
		return Reading{}, ErrNoDataPoints
	}
	point := snapshot.Data[0]

	if point.Dt == nil {
		return Reading{}, fmt.Errorf("%w: %q", ErrMissingField, "dt")
	}
	value := field.selectFrom(point)
	if value == nil {
		return Reading{}, fmt.Errorf("%w: %q", ErrMissingField, field.Key())
	}

	return Reading{Field: field, Timestamp: *point.Dt, Value: *value}, nil
}
