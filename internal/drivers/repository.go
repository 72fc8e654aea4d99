package drivers

import (
	"context"
	"time"

	"fleet-dispatch/internal/geo"
)

// Repository persists driver profiles. Implementations join the unit of work
// carried by ctx.
type Repository interface {
	Create(ctx context.Context, d *Driver) error
	GetByID(ctx context.Context, id string) (*Driver, error)
	GetByUserID(ctx context.Context, userID string) (*Driver, error)
	List(ctx context.Context, f Filter) ([]Driver, error)
	SetStatus(ctx context.Context, id, status string) error
	UpdateLocation(ctx context.Context, id string, s geo.Sample) error
	// SetCurrentTrip points the profile at tripID only if it has no current
	// trip. It returns a Conflict error otherwise.
	SetCurrentTrip(ctx context.Context, id, tripID string) error
	// ClearCurrentTrip clears the pointer only if it still references tripID.
	ClearCurrentTrip(ctx context.Context, id, tripID string) (bool, error)
	AddTripStats(ctx context.Context, id string, distanceKm, durationSec float64, endedAt time.Time) error
	UpdateCommission(ctx context.Context, id string, rate float64) error
}
