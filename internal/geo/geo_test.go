package geo

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKmKnownPairs(t *testing.T) {
	// One degree of longitude on the equator.
	assert.InDelta(t, 111.195, DistanceKm(0, 0, 0, 1), 0.01)
	// Paris -> London.
	assert.InDelta(t, 343.5, DistanceKm(48.8566, 2.3522, 51.5074, -0.1278), 1.0)
	assert.Equal(t, 0.0, DistanceKm(-23.55, -46.63, -23.55, -46.63))
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := DistanceKm(-23.5505, -46.6333, -22.9068, -43.1729)
	b := DistanceKm(-22.9068, -43.1729, -23.5505, -46.6333)
	assert.InDelta(t, a, b, 1e-9)
}

func TestDistanceKmNonFinite(t *testing.T) {
	inputs := [][4]float64{
		{math.NaN(), 0, 0, 0},
		{0, math.Inf(1), 0, 0},
		{0, 0, math.Inf(-1), 0},
		{0, 0, 0, math.NaN()},
	}
	for _, in := range inputs {
		d := DistanceKm(in[0], in[1], in[2], in[3])
		assert.True(t, math.IsInf(d, 1), "%v", in)
	}
}

func TestPointFinite(t *testing.T) {
	assert.True(t, Point{Lat: 1, Lng: 2}.Finite())
	assert.False(t, Point{Lat: math.NaN(), Lng: 2}.Finite())
	assert.Equal(t, Point{Lat: 3, Lng: 4}, Sample{Lat: 3, Lng: 4, Speed: 10}.Point())
}

func TestFixRequiresBothCoordinates(t *testing.T) {
	for _, body := range []string{`{}`, `{"speed":12}`, `{"lat":1}`, `{"lng":1}`} {
		var f Fix
		if assert.NoError(t, json.Unmarshal([]byte(body), &f)) {
			_, ok := f.Sample()
			assert.False(t, ok, body)
		}
	}

	var f Fix
	assert.NoError(t, json.Unmarshal([]byte(`{"lat":0,"lng":0,"speed":5,"recorded_at":"2024-05-01T12:00:00+02:00"}`), &f))
	s, ok := f.Sample()
	assert.True(t, ok)
	assert.Equal(t, Point{}, s.Point())
	assert.Equal(t, 5.0, s.Speed)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), s.RecordedAt)
}
