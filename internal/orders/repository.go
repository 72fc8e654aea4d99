package orders

import (
	"context"
	"time"
)

// Repository persists orders. Every transition is a conditional update that
// reports false when the expected state no longer holds. Implementations
// join the unit of work carried by ctx.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate locks the order for the rest of the unit of work.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// CompareAndAssign sets the assignee and status assigned only while the
	// order is still in expectStatus with expectDriver as assignee.
	CompareAndAssign(ctx context.Context, id, driverID, expectStatus string, expectDriver *string) (bool, error)
	MarkStarted(ctx context.Context, id, driverID string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id, driverID string, at time.Time, valorMotorista, valorEmpresa int64) (bool, error)
	// MarkCanceled cancels a non-terminal order and clears its assignee.
	MarkCanceled(ctx context.Context, id string, at time.Time, notes string) (bool, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// DeleteFinishedBefore removes completed and canceled orders that
	// reached that state before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
