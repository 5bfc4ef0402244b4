// Package domain models the daily weather measure pipeline.
//
// # Data Source
//
// Both upstream payloads come from the OpenWeather API:
//
//	GET /geo/1.0/direct?q=<city>&appid=<key>
//	  → [{"name":"Odesa","lat":46.48,"lon":30.73,"country":"UA",...}, ...]
//
//	GET /data/3.0/onecall/timemachine?lat=<lat>&lon=<lon>&dt=<unix>&appid=<key>
//	  → {"lat":..,"lon":..,"timezone":"..","data":[{"dt":1701043200,"temp":280.1,
//	     "humidity":77,"clouds":40,"wind_speed":3.2,...}]}
//
// Geocoding candidates are ordered by the provider; the pipeline always takes the
// first one. The timemachine response holds one data point for the requested hour
// and the pipeline always reads element zero.
//
// # Units
//
// Values are stored as returned. Without a "units" query parameter OpenWeather
// reports temperature in Kelvin and wind speed in metres per second. Humidity and
// clouds are integer percentages on the wire and are widened to float64.
//
// # Missing values
//
// Data point fields are pointers. A key absent from the payload is a lookup
// failure ([ErrMissingField]), never a silent zero.
//
// # Measures
//
// A [MeasureRecord] is appended once per successful run. There is no natural key:
// running the same logical date twice stores two rows.
package domain
