// Package retention deletes finished orders and trips past a day threshold.
package retention

import (
	"context"
	"fmt"
	"time"

	"fleet-dispatch/internal/metrics"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/logger"
)

// Deleter removes finished records older than cutoff and reports how many.
type Deleter interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result counts what one sweep removed. Zero is a normal outcome.
type Result struct {
	Orders int64 `json:"orders"`
	Trips  int64 `json:"trips"`
}

// Sweeper runs retention over the order ledger and the trip recorder. It
// touches only the repositories, never the realtime state.
type Sweeper struct {
	orders  Deleter
	trips   Deleter
	metrics metrics.Sink
	log     logger.Logger
	now     func() time.Time
}

func NewSweeper(orders, trips Deleter, m metrics.Sink, log logger.Logger) *Sweeper {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Sweeper{orders: orders, trips: trips, metrics: m, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Sweep deletes completed and canceled orders and trips that finished more
// than days ago.
func (s *Sweeper) Sweep(ctx context.Context, days int) (Result, error) {
	if days <= 0 {
		return Result{}, apperr.BadRequestf("days must be positive")
	}
	cutoff := s.now().AddDate(0, 0, -days)

	var res Result
	var err error
	if res.Trips, err = s.trips.DeleteFinishedBefore(ctx, cutoff); err != nil {
		return res, fmt.Errorf("sweep trips: %w", err)
	}
	if res.Orders, err = s.orders.DeleteFinishedBefore(ctx, cutoff); err != nil {
		return res, fmt.Errorf("sweep orders: %w", err)
	}
	s.metrics.RetentionDeleted("trips", res.Trips)
	s.metrics.RetentionDeleted("orders", res.Orders)
	s.log.Infof("retention sweep before %s: %d orders, %d trips", cutoff.Format(time.RFC3339), res.Orders, res.Trips)
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, days int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx, days); err != nil {
				s.log.Errorf("retention sweep: %v", err)
			}
		}
	}
}
