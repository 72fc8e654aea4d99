package trips

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/internal/geo"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/logger"
	rredis "fleet-dispatch/pkg/redis"
	"fleet-dispatch/pkg/validation"
)

// DriverStore is the slice of the driver service the recorder needs.
type DriverStore interface {
	Get(ctx context.Context, id string) (*drivers.Driver, error)
	SetStatus(ctx context.Context, id, status string) error
	SetCurrentTrip(ctx context.Context, id, tripID string) error
	ClearCurrentTrip(ctx context.Context, id, tripID string) (bool, error)
	AddTripStats(ctx context.Context, id string, distanceKm, durationSec float64, endedAt time.Time) error
}

// LiveCache mirrors in-progress trip metrics for cheap polling.
// *redis.Client implements it.
type LiveCache interface {
	CacheTrip(ctx context.Context, tripID string, data map[string]string) error
	GetCachedTrip(ctx context.Context, tripID string) (map[string]string, error)
	DropTrip(ctx context.Context, tripID string) error
}

// Service records trips and their metrics.
type Service struct {
	repo    Repository
	drivers DriverStore
	tx      db.Transactor
	cache   LiveCache
	events  events.Publisher
	log     logger.Logger
	now     func() time.Time
}

// NewService creates a trip recorder.
func NewService(repo Repository, ds DriverStore, tx db.Transactor, cache LiveCache, pub events.Publisher, log logger.Logger) *Service {
	return &Service{
		repo:    repo,
		drivers: ds,
		tx:      tx,
		cache:   cache,
		events:  pub,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StartTrip opens an in_progress trip for the driver. It fails with Conflict
// when the driver already has an active trip, leaving the profile untouched.
func (s *Service) StartTrip(ctx context.Context, req StartRequest) (*Trip, error) {
	if !ValidType(req.Type) {
		return nil, apperr.BadRequestf("unknown trip type %q", req.Type)
	}
	if err := validatePlace(req.Origin); err != nil {
		return nil, err
	}
	if err := validatePlace(req.Destination); err != nil {
		return nil, err
	}

	t := &Trip{
		ID:          uuid.New().String(),
		DriverID:    req.DriverID,
		OrderID:     req.OrderID,
		Type:        req.Type,
		Status:      StatusInProgress,
		StartedAt:   s.now(),
		Origin:      req.Origin,
		Destination: req.Destination,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.drivers.Get(ctx, req.DriverID)
		if err != nil {
			return err
		}
		if t.Origin == nil && d.LastLocation != nil {
			pt := d.LastLocation.Point()
			t.Origin = &Place{Point: &pt}
		}
		if err := s.drivers.SetCurrentTrip(ctx, d.ID, t.ID); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, t); err != nil {
			return err
		}
		db.AfterCommit(ctx, func() {
			s.cacheLive(t, nil)
			s.emit(events.TopicTripStarted, t)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("trip %s (%s) started for driver %s", t.ID, t.Type, t.DriverID)
	return t, nil
}

// RecordPosition appends a sample to the driver's active trip and advances
// its metrics. With no active trip it returns (nil, nil).
func (s *Service) RecordPosition(ctx context.Context, driverID string, sample geo.Sample) (*Trip, error) {
	if !validation.ValidateCoordinates(sample.Lat, sample.Lng) {
		return nil, apperr.BadRequestf("invalid coordinates")
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = s.now()
	}

	var out *Trip
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.drivers.Get(ctx, driverID)
		if err != nil {
			return err
		}
		if d.CurrentTripID == nil {
			return nil
		}
		t, err := s.repo.GetForUpdate(ctx, *d.CurrentTripID)
		if err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				return nil
			}
			return err
		}
		if t.Status != StatusInProgress {
			return nil
		}
		if sameSample(t.LastPosition, sample) {
			out = t
			return nil
		}
		t.Metrics = t.Metrics.Advance(t.LastPosition, sample, t.StartedAt)
		if err := s.repo.AppendPosition(ctx, t.ID, t.PositionCount+1, sample, t.Metrics); err != nil {
			return err
		}
		t.PositionCount++
		t.LastPosition = &sample
		out = t
		db.AfterCommit(ctx, func() { s.cacheLive(t, &sample) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EndTrip completes the driver's active trip, freezes its metrics and folds
// them into the driver's statistics. With no active trip it returns (nil, nil).
func (s *Service) EndTrip(ctx context.Context, driverID, notes string) (*Trip, error) {
	var out *Trip
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.drivers.Get(ctx, driverID)
		if err != nil {
			return err
		}
		if d.CurrentTripID == nil {
			return nil
		}
		t, err := s.repo.GetForUpdate(ctx, *d.CurrentTripID)
		if err != nil {
			return err
		}
		finished := s.now()
		t.Metrics = t.Metrics.Freeze(t.StartedAt, finished)
		if err := s.repo.Finish(ctx, t.ID, StatusCompleted, finished, t.Metrics, notes); err != nil {
			return err
		}
		if _, err := s.drivers.ClearCurrentTrip(ctx, driverID, t.ID); err != nil {
			return err
		}
		if err := s.drivers.AddTripStats(ctx, driverID, t.Metrics.DistanceKm, t.Metrics.DurationSec, finished); err != nil {
			return err
		}
		t.Status = StatusCompleted
		t.FinishedAt = &finished
		t.Notes = notes
		out = t
		db.AfterCommit(ctx, func() {
			s.dropLive(t.ID)
			s.emit(events.TopicTripCompleted, t)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.log.Infof("trip %s completed: %.3f km in %.0fs", out.ID, out.Metrics.DistanceKm, out.Metrics.DurationSec)
	}
	return out, nil
}

// CancelTrip cancels an in_progress trip. The owning driver's current trip
// pointer is cleared if it still references this trip, in which case the
// driver is made available again.
func (s *Service) CancelTrip(ctx context.Context, tripID, reason string) (*Trip, error) {
	var out *Trip
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetForUpdate(ctx, tripID)
		if err != nil {
			return err
		}
		if t.Status != StatusInProgress {
			return apperr.Conflictf("trip is %s, only in_progress trips can be canceled", t.Status)
		}
		finished := s.now()
		t.Metrics = t.Metrics.Freeze(t.StartedAt, finished)
		if err := s.repo.Finish(ctx, t.ID, StatusCanceled, finished, t.Metrics, reason); err != nil {
			return err
		}
		cleared, err := s.drivers.ClearCurrentTrip(ctx, t.DriverID, t.ID)
		if err != nil {
			return err
		}
		if cleared {
			if err := s.drivers.SetStatus(ctx, t.DriverID, drivers.StatusOnlineFree); err != nil {
				return err
			}
		}
		t.Status = StatusCanceled
		t.FinishedAt = &finished
		t.Notes = reason
		out = t
		db.AfterCommit(ctx, func() {
			s.dropLive(t.ID)
			s.emit(events.TopicTripCanceled, t)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("trip %s canceled: %s", out.ID, reason)
	return out, nil
}

// Current returns the driver's active trip, or nil.
func (s *Service) Current(ctx context.Context, driverID string) (*Trip, error) {
	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.CurrentTripID == nil {
		return nil, nil
	}
	t, err := s.repo.Get(ctx, *d.CurrentTripID)
	if apperr.KindOf(err) == apperr.NotFound {
		return nil, nil
	}
	return t, err
}

// Get returns a trip with its position trace.
func (s *Service) Get(ctx context.Context, id string) (*Trip, error) {
	return s.repo.Get(ctx, id)
}

// History lists trips matching f, most recent first.
func (s *Service) History(ctx context.Context, f Filter) ([]Trip, error) {
	if f.Type != "" && !ValidType(f.Type) {
		return nil, apperr.BadRequestf("unknown trip type %q", f.Type)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperr.BadRequestf("from must not be after to")
	}
	return s.repo.List(ctx, f)
}

// Stats aggregates trips started in [from, to] by type.
func (s *Service) Stats(ctx context.Context, from, to time.Time) ([]TypeStats, error) {
	if from.After(to) {
		return nil, apperr.BadRequestf("from must not be after to")
	}
	return s.repo.Stats(ctx, from, to)
}

// Live returns the cached metrics of a trip, falling back to the stored row.
func (s *Service) Live(ctx context.Context, id string) (*Live, error) {
	if data, err := s.cache.GetCachedTrip(ctx, id); err == nil && len(data) > 0 {
		return liveFromCache(id, data), nil
	} else if err != nil {
		s.log.Warnf("live cache read for trip %s: %v", id, err)
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Live{TripID: t.ID, DriverID: t.DriverID, Status: t.Status, Metrics: t.Metrics, Position: t.LastPosition}, nil
}

// DeleteFinishedBefore removes finished trips older than cutoff.
func (s *Service) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteFinishedBefore(ctx, cutoff)
}

func (s *Service) cacheLive(t *Trip, pos *geo.Sample) {
	data := map[string]string{
		"driver_id":     t.DriverID,
		"status":        t.Status,
		"distance_km":   rredis.FormatFloat(t.Metrics.DistanceKm),
		"duration_sec":  rredis.FormatFloat(t.Metrics.DurationSec),
		"avg_speed_kmh": rredis.FormatFloat(t.Metrics.AvgSpeedKmh),
		"max_speed_kmh": rredis.FormatFloat(t.Metrics.MaxSpeedKmh),
	}
	if pos != nil {
		data["lat"] = rredis.FormatFloat(pos.Lat)
		data["lng"] = rredis.FormatFloat(pos.Lng)
		data["speed"] = rredis.FormatFloat(pos.Speed)
		data["recorded_at"] = pos.RecordedAt.Format(time.RFC3339Nano)
	}
	if err := s.cache.CacheTrip(context.Background(), t.ID, data); err != nil {
		s.log.Warnf("live cache write for trip %s: %v", t.ID, err)
	}
}

func (s *Service) dropLive(tripID string) {
	if err := s.cache.DropTrip(context.Background(), tripID); err != nil {
		s.log.Warnf("live cache drop for trip %s: %v", tripID, err)
	}
}

func (s *Service) emit(topic string, t *Trip) {
	ev := events.TripEvent{
		TripID:      t.ID,
		DriverID:    t.DriverID,
		Type:        t.Type,
		Status:      t.Status,
		DistanceKm:  t.Metrics.DistanceKm,
		DurationSec: t.Metrics.DurationSec,
		AvgSpeedKmh: t.Metrics.AvgSpeedKmh,
		MaxSpeedKmh: t.Metrics.MaxSpeedKmh,
		At:          s.now(),
	}
	if t.OrderID != nil {
		ev.OrderID = *t.OrderID
	}
	events.Emit(s.events, s.log, topic, t.ID, ev)
}

func liveFromCache(id string, data map[string]string) *Live {
	f := func(k string) float64 {
		v, _ := strconv.ParseFloat(data[k], 64)
		return v
	}
	l := &Live{
		TripID:   id,
		DriverID: data["driver_id"],
		Status:   data["status"],
		Metrics: Metrics{
			DistanceKm:  f("distance_km"),
			DurationSec: f("duration_sec"),
			AvgSpeedKmh: f("avg_speed_kmh"),
			MaxSpeedKmh: f("max_speed_kmh"),
		},
	}
	if _, ok := data["lat"]; ok {
		at, _ := time.Parse(time.RFC3339Nano, data["recorded_at"])
		l.Position = &geo.Sample{Lat: f("lat"), Lng: f("lng"), Speed: f("speed"), RecordedAt: at}
	}
	return l
}

func validatePlace(p *Place) error {
	if p != nil && p.Point != nil && !validation.ValidateCoordinates(p.Point.Lat, p.Point.Lng) {
		return apperr.BadRequestf("invalid coordinates")
	}
	return nil
}

func sameSample(prev *geo.Sample, next geo.Sample) bool {
	return prev != nil && prev.Lat == next.Lat && prev.Lng == next.Lng && prev.RecordedAt.Equal(next.RecordedAt)
}
