package trips

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/pkg/apperr"
)

// MemoryRepository keeps trips in memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Trip
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*Trip{}}
}

func (r *MemoryRepository) Create(_ context.Context, t *Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.ID]; ok {
		return apperr.Conflictf("trip already exists")
	}
	c := cloneTrip(t, true)
	r.byID[t.ID] = c
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("trip not found")
	}
	return cloneTrip(t, true), nil
}

func (r *MemoryRepository) GetForUpdate(_ context.Context, id string) (*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("trip not found")
	}
	return cloneTrip(t, false), nil
}

func (r *MemoryRepository) AppendPosition(_ context.Context, tripID string, seq int, s geo.Sample, m Metrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[tripID]
	if !ok {
		return apperr.NotFoundf("trip not found")
	}
	if t.Status != StatusInProgress {
		return apperr.Conflictf("trip is not in progress")
	}
	if seq != len(t.Positions)+1 {
		return apperr.Conflictf("position %d out of sequence", seq)
	}
	t.Positions = append(t.Positions, s)
	t.PositionCount = len(t.Positions)
	last := s
	t.LastPosition = &last
	t.Metrics = m
	return nil
}

func (r *MemoryRepository) Finish(_ context.Context, id, status string, finishedAt time.Time, m Metrics, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return apperr.NotFoundf("trip not found")
	}
	if t.Status != StatusInProgress {
		return apperr.Conflictf("trip is not in progress")
	}
	t.Status = status
	t.FinishedAt = &finishedAt
	t.Metrics = m
	t.Notes = notes
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Trip{}
	for _, t := range r.byID {
		if f.DriverID != "" && t.DriverID != f.DriverID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.From != nil && t.StartedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && t.StartedAt.After(*f.To) {
			continue
		}
		out = append(out, *cloneTrip(t, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Stats(_ context.Context, from, to time.Time) ([]TypeStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byType := map[string]*TypeStats{}
	for _, t := range r.byID {
		if t.StartedAt.Before(from) || t.StartedAt.After(to) {
			continue
		}
		s, ok := byType[t.Type]
		if !ok {
			s = &TypeStats{Type: t.Type}
			byType[t.Type] = s
		}
		s.Count++
		s.TotalDistanceKm += t.Metrics.DistanceKm
		s.TotalDurationSec += t.Metrics.DurationSec
	}
	out := make([]TypeStats, 0, len(byType))
	for _, s := range byType {
		s.AvgSpeedKmh = avgSpeed(s.TotalDistanceKm, s.TotalDurationSec)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.byID {
		if t.Status == StatusInProgress || t.FinishedAt == nil || !t.FinishedAt.Before(cutoff) {
			continue
		}
		delete(r.byID, id)
		n++
	}
	return n, nil
}

func cloneTrip(t *Trip, withPositions bool) *Trip {
	c := *t
	if t.OrderID != nil {
		id := *t.OrderID
		c.OrderID = &id
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	if t.LastPosition != nil {
		p := *t.LastPosition
		c.LastPosition = &p
	}
	c.Origin = clonePlace(t.Origin)
	c.Destination = clonePlace(t.Destination)
	c.Positions = nil
	if withPositions {
		c.Positions = append([]geo.Sample{}, t.Positions...)
	}
	return &c
}

func clonePlace(p *Place) *Place {
	if p == nil {
		return nil
	}
	c := *p
	if p.Point != nil {
		pt := *p.Point
		c.Point = &pt
	}
	return &c
}
