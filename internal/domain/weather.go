package domain

import (
	"context"
	"fmt"
	"time"
)

// Location is one geocoding candidate for a city name.
// Lat and Lon are nil when the key was absent from the response.
type Location struct {
	Name    string   `json:"name"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Country string   `json:"country,omitempty"`
	State   string   `json:"state,omitempty"`
}

// Coordinates returns the candidate's position, failing with ErrMissingField
// when either key is absent.
func (l Location) Coordinates() (lat, lon float64, err error) {
	if l.Lat == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMissingField, "lat")
	}
	if l.Lon == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMissingField, "lon")
	}
	return *l.Lat, *l.Lon, nil
}

// DataPoint is one time-indexed entry of a WeatherSnapshot.
type DataPoint struct {
	Dt        *int64   `json:"dt"`
	Temp      *float64 `json:"temp"`
	Humidity  *float64 `json:"humidity"`
	Clouds    *float64 `json:"clouds"`
	WindSpeed *float64 `json:"wind_speed"`
}

// WeatherSnapshot is the historical weather response for one coordinate and timestamp.
type WeatherSnapshot struct {
	Lat      float64     `json:"lat"`
	Lon      float64     `json:"lon"`
	Timezone string      `json:"timezone,omitempty"`
	Data     []DataPoint `json:"data"`
}

// Geocoder resolves a city name to location candidates.
type Geocoder interface {
	Geocode(ctx context.Context, city string) ([]Location, error)
}

// WeatherSource fetches the historical snapshot for a coordinate at a point in time.
type WeatherSource interface {
	Snapshot(ctx context.Context, lat, lon float64, at time.Time) (WeatherSnapshot, error)
}

// FirstLocation returns the first candidate, which is the only one the pipeline uses.
// A first candidate without coordinates is an error; later candidates are not inspected.
func FirstLocation(candidates []Location) (Location, error) {
	if len(candidates) == 0 {
		return Location{}, ErrNoLocation
	}
	first := candidates[0]
	if _, _, err := first.Coordinates(); err != nil {
		return Location{}, fmt.Errorf("first candidate %q: %w", first.Name, err)
	}
	return first, nil
}
