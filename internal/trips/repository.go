package trips

import (
	"context"
	"time"

	"fleet-dispatch/internal/geo"
)

// Repository persists trips and their position traces. Implementations join
// the unit of work carried by ctx.
type Repository interface {
	Create(ctx context.Context, t *Trip) error
	// Get returns the trip with its full position trace.
	Get(ctx context.Context, id string) (*Trip, error)
	// GetForUpdate returns the trip without its trace, locked for the rest
	// of the unit of work.
	GetForUpdate(ctx context.Context, id string) (*Trip, error)
	AppendPosition(ctx context.Context, tripID string, seq int, s geo.Sample, m Metrics) error
	// Finish moves an in_progress trip to status. Conflict if it is no
	// longer in progress.
	Finish(ctx context.Context, id, status string, finishedAt time.Time, m Metrics, notes string) error
	List(ctx context.Context, f Filter) ([]Trip, error)
	Stats(ctx context.Context, from, to time.Time) ([]TypeStats, error)
	// DeleteFinishedBefore removes completed and canceled trips that
	// finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
