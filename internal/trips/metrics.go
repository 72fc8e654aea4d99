package trips

import (
	"math"
	"time"

	"fleet-dispatch/internal/geo"
)

// Advance folds the next sample into m. prev is the previously recorded
// sample, nil for the first one, which contributes no distance.
func (m Metrics) Advance(prev *geo.Sample, next geo.Sample, startedAt time.Time) Metrics {
	if prev != nil {
		if d := geo.Between(prev.Point(), next.Point()); !math.IsInf(d, 0) {
			m.DistanceKm += d
		}
	}
	m.DurationSec = math.Max(0, next.RecordedAt.Sub(startedAt).Seconds())
	if !math.IsNaN(next.Speed) && next.Speed > m.MaxSpeedKmh {
		m.MaxSpeedKmh = next.Speed
	}
	m.AvgSpeedKmh = avgSpeed(m.DistanceKm, m.DurationSec)
	return m
}

// Freeze fixes the duration to the finish time and recomputes the average.
func (m Metrics) Freeze(startedAt, finishedAt time.Time) Metrics {
	m.DurationSec = math.Max(0, finishedAt.Sub(startedAt).Seconds())
	m.AvgSpeedKmh = avgSpeed(m.DistanceKm, m.DurationSec)
	return m
}

func avgSpeed(distanceKm, durationSec float64) float64 {
	if durationSec <= 0 {
		return 0
	}
	return distanceKm / (durationSec / 3600)
}
