package matching

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/presence"
	"fleet-dispatch/pkg/logger"
)

// kmPerDegree is the length of one degree of longitude on the equator.
const kmPerDegree = 2 * math.Pi * 6371 / 360

func at(id string, km float64) presence.Candidate {
	return presence.Candidate{DriverID: id, Location: geo.Sample{Lat: 0, Lng: km / kmPerDegree}}
}

func TestRankSkipsNaNAndPicksClosest(t *testing.T) {
	candidates := []presence.Candidate{
		at("a", 12.3),
		at("b", 4.1),
		{DriverID: "nan", Location: geo.Sample{Lat: math.NaN(), Lng: 0}},
		at("c", 7.0),
	}
	got := Rank(geo.Point{}, candidates)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].DriverID)
	assert.InDelta(t, 4.1, got[0].DistanceKm, 1e-9)
}

func TestRankNoFiniteCandidate(t *testing.T) {
	assert.Empty(t, Rank(geo.Point{}, nil))
	assert.Empty(t, Rank(geo.Point{}, []presence.Candidate{
		{DriverID: "x", Location: geo.Sample{Lat: math.Inf(1)}},
	}))
}

func TestRankTieGoesToLowestID(t *testing.T) {
	got := Rank(geo.Point{}, []presence.Candidate{at("b", 3), at("a", 3)})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DriverID)
}

func TestRankOrdersByDistanceThenID(t *testing.T) {
	got := Rank(geo.Point{}, []presence.Candidate{at("z", 2), at("m", 1), at("a", 2)})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m", "a", "z"}, []string{got[0].DriverID, got[1].DriverID, got[2].DriverID})
}

func TestMatcherUsesRegistrySnapshot(t *testing.T) {
	reg := presence.NewRegistry()
	reg.Register("c1", presence.Identity{DriverID: "d2", Role: presence.RoleDriver}, presence.StatusOnlineFree)
	reg.Register("c2", presence.Identity{DriverID: "d1", Role: presence.RoleDriver}, presence.StatusOnlineFree)
	reg.Register("c3", presence.Identity{DriverID: "d3", Role: presence.RoleDriver}, "online_busy")
	reg.UpdateLocation("c1", geo.Sample{Lat: 0, Lng: 5 / kmPerDegree}, "")
	reg.UpdateLocation("c2", geo.Sample{Lat: 0, Lng: 5 / kmPerDegree}, "")
	reg.UpdateLocation("c3", geo.Sample{Lat: 0, Lng: 0}, "")

	m := NewMatcher(reg, logger.NopLogger{})
	got := m.Candidates(geo.Point{})
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].DriverID, "equal distances resolve to the lowest driver id")

	assert.Empty(t, m.Candidates(geo.Point{Lat: math.NaN()}))
}
