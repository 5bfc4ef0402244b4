package domain

import (
	"errors"
	"fmt"
)

// ErrTimestampMismatch is returned when extractor readings disagree on the data point timestamp.
var ErrTimestampMismatch = errors.New("readings disagree on timestamp")

// ErrMissingReading is returned when a record is built without one of the four readings.
var ErrMissingReading = errors.New("reading missing")

// MeasureRecord is the persisted row of the measures table.
type MeasureRecord struct {
	ID         int64   `json:"id,omitempty"`
	City       string  `json:"city"`
	Timestamp  int64   `json:"timestamp"`
	Temp       float64 `json:"temp"`
	Cloudiness float64 `json:"cloudiness"`
	Wind       float64 `json:"wind"`
	Humidity   float64 `json:"humidity"`
}

// BuildRecord combines one reading per field with the city label.
// The timestamp comes from the temperature reading; every other reading must match it.
func BuildRecord(city string, readings []Reading) (MeasureRecord, error) {
	byField := make(map[Field]Reading, len(readings))
	for _, r := range readings {
		byField[r.Field] = r
	}

	for _, f := range Fields {
		if _, ok := byField[f]; !ok {
			return MeasureRecord{}, fmt.Errorf("%w: %s", ErrMissingReading, f)
		}
	}

	ts := byField[FieldTemperature].Timestamp
	for _, f := range Fields {
		if got := byField[f].Timestamp; got != ts {
			return MeasureRecord{}, fmt.Errorf("%w: %s=%d temperature=%d", ErrTimestampMismatch, f, got, ts)
		}
	}

	return MeasureRecord{
		City:       city,
		Timestamp:  ts,
		Temp:       byField[FieldTemperature].Value,
		Cloudiness: byField[FieldCloudiness].Value,
		Wind:       byField[FieldWindSpeed].Value,
		Humidity:   byField[FieldHumidity].Value,
	}, nil
}
