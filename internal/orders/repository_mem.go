package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-dispatch/pkg/apperr"
)

// MemoryRepository keeps orders in memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Order
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*Order{}}
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; ok {
		return apperr.Conflictf("order already exists")
	}
	r.byID[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("order not found")
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) CompareAndAssign(_ context.Context, id, driverID, expectStatus string, expectDriver *string) (bool, error) {
	return r.swap(id, func(o *Order) bool {
		if o.Status != expectStatus || !sameDriver(o.AssignedToDriver, expectDriver) {
			return false
		}
		o.AssignedToDriver = &driverID
		o.Status = StatusAssigned
		return true
	})
}

func (r *MemoryRepository) MarkStarted(_ context.Context, id, driverID string, at time.Time) (bool, error) {
	return r.swap(id, func(o *Order) bool {
		if o.Status != StatusAssigned || !o.AssignedTo(driverID) {
			return false
		}
		o.Status = StatusInProgress
		o.StartedAt = &at
		return true
	})
}

func (r *MemoryRepository) MarkCompleted(_ context.Context, id, driverID string, at time.Time, valorMotorista, valorEmpresa int64) (bool, error) {
	return r.swap(id, func(o *Order) bool {
		if o.Status != StatusInProgress || !o.AssignedTo(driverID) {
			return false
		}
		o.Status = StatusCompleted
		o.CompletedAt = &at
		o.ValorMotorista = valorMotorista
		o.ValorEmpresa = valorEmpresa
		return true
	})
}

func (r *MemoryRepository) MarkCanceled(_ context.Context, id string, at time.Time, notes string) (bool, error) {
	return r.swap(id, func(o *Order) bool {
		if Terminal(o.Status) {
			return false
		}
		o.Status = StatusCanceled
		o.CanceledAt = &at
		o.Notes = notes
		o.AssignedToDriver = nil
		return true
	})
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Order{}
	for _, o := range r.byID {
		if f.DriverID != "" && !o.AssignedTo(f.DriverID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, o := range r.byID {
		var at *time.Time
		switch o.Status {
		case StatusCompleted:
			at = o.CompletedAt
		case StatusCanceled:
			at = o.CanceledAt
		}
		if at == nil || !at.Before(cutoff) {
			continue
		}
		delete(r.byID, id)
		n++
	}
	return n, nil
}

func (r *MemoryRepository) swap(id string, fn func(o *Order) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	return fn(o), nil
}

func sameDriver(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneOrder(o *Order) *Order {
	c := *o
	if o.Location != nil {
		loc := *o.Location
		c.Location = &loc
	}
	if o.AssignedToDriver != nil {
		d := *o.AssignedToDriver
		c.AssignedToDriver = &d
	}
	for _, p := range []**time.Time{&c.StartedAt, &c.CompletedAt, &c.CanceledAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}
