package drivers

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/pkg/apperr"
)

// MemoryRepository keeps driver profiles in memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Driver
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*Driver{}}
}

func (r *MemoryRepository) Create(_ context.Context, d *Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.UserID == d.UserID {
			return apperr.Conflictf("driver profile already exists")
		}
	}
	r.byID[d.ID] = clone(d)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("driver not found")
	}
	return clone(d), nil
}

func (r *MemoryRepository) GetByUserID(_ context.Context, userID string) (*Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.byID {
		if d.UserID == userID {
			return clone(d), nil
		}
	}
	return nil, apperr.NotFoundf("driver not found")
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Driver{}
	for _, d := range r.byID {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, *clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, id, status string) error {
	return r.mutate(id, func(d *Driver) error {
		d.Status = status
		return nil
	})
}

func (r *MemoryRepository) UpdateLocation(_ context.Context, id string, s geo.Sample) error {
	return r.mutate(id, func(d *Driver) error {
		d.LastLocation = &s
		return nil
	})
}

func (r *MemoryRepository) SetCurrentTrip(_ context.Context, id, tripID string) error {
	return r.mutate(id, func(d *Driver) error {
		if d.CurrentTripID != nil {
			return apperr.Conflictf("driver already has an active trip")
		}
		d.CurrentTripID = &tripID
		return nil
	})
}

func (r *MemoryRepository) ClearCurrentTrip(_ context.Context, id, tripID string) (bool, error) {
	cleared := false
	err := r.mutate(id, func(d *Driver) error {
		if d.CurrentTripID != nil && *d.CurrentTripID == tripID {
			d.CurrentTripID = nil
			cleared = true
		}
		return nil
	})
	if apperr.KindOf(err) == apperr.NotFound {
		return false, nil
	}
	return cleared, err
}

func (r *MemoryRepository) AddTripStats(_ context.Context, id string, distanceKm, durationSec float64, endedAt time.Time) error {
	return r.mutate(id, func(d *Driver) error {
		d.Stats.TotalTrips++
		d.Stats.TotalDistanceKm += distanceKm
		d.Stats.TotalDurationSec += durationSec
		d.Stats.LastTripEndedAt = &endedAt
		return nil
	})
}

func (r *MemoryRepository) UpdateCommission(_ context.Context, id string, rate float64) error {
	return r.mutate(id, func(d *Driver) error {
		d.CommissionRate = rate
		return nil
	})
}

func (r *MemoryRepository) mutate(id string, fn func(d *Driver) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return apperr.NotFoundf("driver not found")
	}
	if err := fn(d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func clone(d *Driver) *Driver {
	c := *d
	if d.LastLocation != nil {
		loc := *d.LastLocation
		c.LastLocation = &loc
	}
	if d.CurrentTripID != nil {
		id := *d.CurrentTripID
		c.CurrentTripID = &id
	}
	if d.Stats.LastTripEndedAt != nil {
		t := *d.Stats.LastTripEndedAt
		c.Stats.LastTripEndedAt = &t
	}
	return &c
}
