package matching

import (
	"math"
	"sort"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/presence"
	"fleet-dispatch/pkg/logger"
)

// Snapshotter supplies the drivers currently eligible for auto-assignment.
type Snapshotter interface {
	SnapshotOnlineFreeDrivers() []presence.Candidate
}

// Match is a scored candidate.
type Match struct {
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
}

// Rank scores every candidate with a finite distance, nearest first. Equal
// distances are ordered by driver id.
func Rank(target geo.Point, candidates []presence.Candidate) []Match {
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		d := geo.Between(target, c.Location.Point())
		if math.IsInf(d, 0) || math.IsNaN(d) {
			continue
		}
		out = append(out, Match{DriverID: c.DriverID, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out
}

// Matcher scores the live presence snapshot against an order location.
type Matcher struct {
	presence Snapshotter
	log      logger.Logger
}

// NewMatcher creates a matcher over the given snapshot source.
func NewMatcher(p Snapshotter, log logger.Logger) *Matcher {
	return &Matcher{presence: p, log: log}
}

// Candidates returns the ranked candidates for target. An empty result is a
// normal outcome, not an error.
func (m *Matcher) Candidates(target geo.Point) []Match {
	if !target.Finite() {
		return nil
	}
	snap := m.presence.SnapshotOnlineFreeDrivers()
	ranked := Rank(target, snap)
	if len(ranked) == 0 {
		m.log.Debugf("no dispatchable drivers among %d online_free sessions", len(snap))
	}
	return ranked
}
