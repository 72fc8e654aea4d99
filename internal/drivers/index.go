package drivers

import (
	"context"
	"sort"
	"sync"

	"fleet-dispatch/internal/geo"
	rredis "fleet-dispatch/pkg/redis"
)

// LocationIndex answers radius queries over free drivers. *redis.Client
// implements it; MemoryIndex is used when Redis is not configured.
type LocationIndex interface {
	SetDriverLocation(ctx context.Context, driverID string, lat, lng float64) error
	RemoveDriverLocation(ctx context.Context, driverID string) error
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, count int) ([]rredis.Nearby, error)
}

// MemoryIndex is a process-local LocationIndex.
type MemoryIndex struct {
	mu  sync.RWMutex
	pts map[string]geo.Point
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{pts: map[string]geo.Point{}}
}

func (m *MemoryIndex) SetDriverLocation(_ context.Context, driverID string, lat, lng float64) error {
	m.mu.Lock()
	m.pts[driverID] = geo.Point{Lat: lat, Lng: lng}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) RemoveDriverLocation(_ context.Context, driverID string) error {
	m.mu.Lock()
	delete(m.pts, driverID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) NearbyDrivers(_ context.Context, lat, lng, radiusKm float64, count int) ([]rredis.Nearby, error) {
	center := geo.Point{Lat: lat, Lng: lng}
	m.mu.RLock()
	out := []rredis.Nearby{}
	for id, p := range m.pts {
		if d := geo.Between(center, p); d <= radiusKm {
			out = append(out, rredis.Nearby{DriverID: id, DistanceKm: d})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}
