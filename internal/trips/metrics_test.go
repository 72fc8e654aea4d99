package trips

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleet-dispatch/internal/geo"
)

func TestAdvanceFirstSampleAddsNoDistance(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	m := Metrics{}.Advance(nil, geo.Sample{Lat: 0, Lng: 0, Speed: 30, RecordedAt: start.Add(time.Minute)}, start)

	assert.Zero(t, m.DistanceKm)
	assert.Equal(t, 60.0, m.DurationSec)
	assert.Equal(t, 30.0, m.MaxSpeedKmh)
	assert.Zero(t, m.AvgSpeedKmh)
}

func TestAdvanceAccumulatesDistanceAndAverage(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	a := geo.Sample{Lat: 0, Lng: 0, Speed: 40, RecordedAt: start}
	b := geo.Sample{Lat: 0, Lng: 0.1, Speed: 55, RecordedAt: start.Add(30 * time.Minute)}
	c := geo.Sample{Lat: 0, Lng: 0.2, Speed: 20, RecordedAt: start.Add(time.Hour)}

	m := Metrics{}.Advance(nil, a, start)
	m = m.Advance(&a, b, start)
	m = m.Advance(&b, c, start)

	want := geo.DistanceKm(0, 0, 0, 0.2)
	assert.InDelta(t, want, m.DistanceKm, 1e-9)
	assert.Equal(t, 3600.0, m.DurationSec)
	assert.Equal(t, 55.0, m.MaxSpeedKmh)
	assert.InDelta(t, want, m.AvgSpeedKmh, 1e-9)
}

func TestAdvanceSkipsNonFiniteSpeed(t *testing.T) {
	start := time.Now()
	m := Metrics{MaxSpeedKmh: 10}.Advance(nil, geo.Sample{Speed: math.NaN(), RecordedAt: start}, start)
	assert.Equal(t, 10.0, m.MaxSpeedKmh)
}

func TestFreezeMatchesWallClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	m := Metrics{DistanceKm: 12, DurationSec: 100}.Freeze(start, start.Add(90*time.Minute))

	assert.Equal(t, 5400.0, m.DurationSec)
	assert.InDelta(t, 8.0, m.AvgSpeedKmh, 1e-9)

	zero := Metrics{DistanceKm: 1}.Freeze(start, start)
	assert.Zero(t, zero.AvgSpeedKmh)
}
