package geo

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Sample is a single GPS fix reported by a driver device.
// Speed is in km/h, heading in degrees, accuracy in meters.
type Sample struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Fix is the wire shape of a Sample as devices send it over HTTP, websocket
// and MQTT. Pointers tell a missing coordinate apart from 0.
type Fix struct {
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	Speed      float64    `json:"speed"`
	Heading    float64    `json:"heading"`
	Accuracy   float64    `json:"accuracy"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// Sample converts f, reporting false when either coordinate is absent. A
// missing timestamp is left zero for the receiver to fill.
func (f Fix) Sample() (Sample, bool) {
	if f.Lat == nil || f.Lng == nil {
		return Sample{}, false
	}
	s := Sample{Lat: *f.Lat, Lng: *f.Lng, Speed: f.Speed, Heading: f.Heading, Accuracy: f.Accuracy}
	if f.RecordedAt != nil {
		s.RecordedAt = f.RecordedAt.UTC()
	}
	return s, true
}

// Point returns the coordinate part of the sample.
func (s Sample) Point() Point { return Point{Lat: s.Lat, Lng: s.Lng} }

// Finite reports whether both coordinate components are usable numbers.
func (p Point) Finite() bool { return finite(p.Lat) && finite(p.Lng) }

// DistanceKm returns the great-circle distance between two coordinates using
// the haversine formula. Any non-finite input yields +Inf so callers can rank
// candidates without special-casing bad data.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if !finite(lat1) || !finite(lng1) || !finite(lat2) || !finite(lng2) {
		return math.Inf(1)
	}
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Between is DistanceKm for two points.
func Between(a, b Point) float64 { return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng) }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
