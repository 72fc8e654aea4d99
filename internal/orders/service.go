package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/matching"
	"fleet-dispatch/internal/trips"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/logger"
	"fleet-dispatch/pkg/validation"
)

// Notifier pushes realtime events to a driver's channel or to every
// dashboard. *tracking.Gateway implements it.
type Notifier interface {
	NotifyDriver(driverID, event string, payload any)
	NotifyDashboards(event string, payload any)
}

// DriverStore is the slice of the driver service dispatch needs.
type DriverStore interface {
	Get(ctx context.Context, id string) (*drivers.Driver, error)
	SetStatus(ctx context.Context, id, status string) error
}

// TripRecorder is the slice of the trip service dispatch drives.
type TripRecorder interface {
	StartTrip(ctx context.Context, req trips.StartRequest) (*trips.Trip, error)
	EndTrip(ctx context.Context, driverID, notes string) (*trips.Trip, error)
	CancelTrip(ctx context.Context, tripID, reason string) (*trips.Trip, error)
	Current(ctx context.Context, driverID string) (*trips.Trip, error)
}

// CandidateSource ranks dispatchable drivers for a location.
type CandidateSource interface {
	Candidates(target geo.Point) []matching.Match
}

// Service is the dispatch engine: order creation, assignment and the
// delivery lifecycle.
type Service struct {
	repo        Repository
	drivers     DriverStore
	trips       TripRecorder
	matcher     CandidateSource
	notifier    Notifier
	tx          db.Transactor
	events      events.Publisher
	defaultRate float64
	log         logger.Logger
	now         func() time.Time
	newCode     func() (string, error)
}

// NewService creates the dispatch engine. defaultRate is the commission used
// when a driver's stored rate is outside 0-100.
func NewService(repo Repository, ds DriverStore, tr TripRecorder, matcher CandidateSource, n Notifier,
	tx db.Transactor, pub events.Publisher, defaultRate float64, log logger.Logger) *Service {
	return &Service{
		repo:        repo,
		drivers:     ds,
		trips:       tr,
		matcher:     matcher,
		notifier:    n,
		tx:          tx,
		events:      pub,
		defaultRate: defaultRate,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newCode:     NewVerificationCode,
	}
}

// Create persists a new order. With autoAssign and a location, the nearest
// free driver is assigned right away; finding nobody leaves it pending.
func (s *Service) Create(ctx context.Context, createdBy string, req CreateRequest) (*Order, error) {
	if req.Price < 0 {
		return nil, apperr.BadRequestf("price must not be negative")
	}
	if req.Location != nil && !validation.ValidateCoordinates(req.Location.Lat, req.Location.Lng) {
		return nil, apperr.BadRequestf("invalid coordinates")
	}
	if !validation.ValidatePhone(req.CustomerPhone) {
		return nil, apperr.BadRequestf("invalid customer phone")
	}
	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("verification code: %w", err)
	}

	o := &Order{
		ID:               uuid.New().String(),
		ServiceType:      strings.TrimSpace(req.ServiceType),
		Price:            req.Price,
		CustomerName:     strings.TrimSpace(req.CustomerName),
		CustomerPhone:    strings.TrimSpace(req.CustomerPhone),
		Address:          strings.TrimSpace(req.Address),
		Location:         req.Location,
		ImageURL:         req.ImageURL,
		VerificationCode: code,
		CreatedBy:        createdBy,
		Status:           StatusPending,
		Notes:            req.Notes,
		CreatedAt:        s.now(),
	}
	if req.AutoAssign && o.Location != nil {
		if id, ok := s.pickDriver(ctx, *o.Location); ok {
			o.AssignedToDriver = &id
			o.Status = StatusAssigned
		}
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	db.AfterCommit(ctx, func() {
		s.emit(events.TopicOrderCreated, o, "")
		if o.AssignedToDriver == nil {
			s.notifier.NotifyDashboards(events.OrderPending, s.notice(o, ""))
			return
		}
		s.emit(events.TopicOrderAssigned, o, "")
		s.notifier.NotifyDriver(*o.AssignedToDriver, events.NewDeliveryAssigned, s.notice(o, ""))
		s.notifier.NotifyDashboards(events.NewDeliveryAssigned, s.notice(o, ""))
	})
	if o.AssignedToDriver != nil {
		s.log.Infof("order %s auto-assigned to driver %s", o.ID, *o.AssignedToDriver)
	} else {
		s.log.Infof("order %s created pending", o.ID)
	}
	return o, nil
}

// pickDriver walks the ranked snapshot and returns the first candidate whose
// stored profile is still free. The snapshot can lag the profile by one
// status broadcast.
func (s *Service) pickDriver(ctx context.Context, target geo.Point) (string, bool) {
	for _, m := range s.matcher.Candidates(target) {
		d, err := s.drivers.Get(ctx, m.DriverID)
		if err != nil {
			s.log.Warnf("auto-assign: skipping driver %s: %v", m.DriverID, err)
			continue
		}
		if d.Status == drivers.StatusOnlineFree && d.CurrentTripID == nil {
			return d.ID, true
		}
	}
	return "", false
}

// Assign (re)assigns an order to a driver. Two concurrent calls against the
// same order cannot both succeed; the loser gets Conflict.
func (s *Service) Assign(ctx context.Context, orderID, driverID string) (*Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.drivers.Get(ctx, driverID); err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusInProgress:
		return nil, apperr.Conflictf("order is in progress and cannot be reassigned")
	case StatusCompleted, StatusCanceled:
		return nil, apperr.Conflictf("order is %s", o.Status)
	}
	if o.Status == StatusAssigned && o.AssignedTo(driverID) {
		return o, nil
	}

	ok, err := s.repo.CompareAndAssign(ctx, orderID, driverID, o.Status, o.AssignedToDriver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflictf("order changed concurrently, reload and retry")
	}

	prev := ""
	if o.AssignedToDriver != nil {
		prev = *o.AssignedToDriver
	}
	o.AssignedToDriver = &driverID
	o.Status = StatusAssigned

	db.AfterCommit(ctx, func() {
		if prev != "" && prev != driverID {
			s.notifier.NotifyDriver(prev, events.DeliveryCanceled, s.notice(o, "reassigned"))
		}
		s.notifier.NotifyDriver(driverID, events.NewDeliveryAssigned, s.notice(o, ""))
		s.notifier.NotifyDashboards(events.NewDeliveryAssigned, s.notice(o, ""))
		s.emit(events.TopicOrderAssigned, o, prev)
	})
	s.log.Infof("order %s assigned to driver %s", o.ID, driverID)
	return o, nil
}

// StartDelivery moves an assigned order to in_progress, marks the driver
// busy and opens a dropoff trip, all in one unit of work.
func (s *Service) StartDelivery(ctx context.Context, orderID, driverID string) (*Order, error) {
	var out *Order
	var trip *trips.Trip
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if Terminal(o.Status) {
			return apperr.Conflictf("order is %s", o.Status)
		}
		if !o.AssignedTo(driverID) {
			return apperr.Forbiddenf("order is not assigned to this driver")
		}
		if o.Status != StatusAssigned {
			return apperr.Conflictf("order is %s, expected %s", o.Status, StatusAssigned)
		}
		d, err := s.drivers.Get(ctx, driverID)
		if err != nil {
			return err
		}
		if d.CurrentTripID != nil {
			return apperr.Conflictf("driver already has an active trip")
		}

		at := s.now()
		ok, err := s.repo.MarkStarted(ctx, orderID, driverID, at)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflictf("order changed concurrently, reload and retry")
		}
		trip, err = s.trips.StartTrip(ctx, trips.StartRequest{
			DriverID:    driverID,
			Type:        trips.TypeDropoff,
			OrderID:     &o.ID,
			Destination: &trips.Place{Point: o.Location, Address: o.Address},
		})
		if err != nil {
			return err
		}
		if err := s.drivers.SetStatus(ctx, driverID, drivers.StatusOnlineBusy); err != nil {
			return err
		}
		o.Status = StatusInProgress
		o.StartedAt = &at
		out = o
		db.AfterCommit(ctx, func() {
			n := s.notice(o, "")
			n.TripID = trip.ID
			s.notifier.NotifyDashboards(events.DeliveryStarted, n)
			s.emit(events.TopicDeliveryStarted, o, "")
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("order %s started by driver %s (trip %s)", out.ID, driverID, trip.ID)
	return out, nil
}

// CompleteDelivery closes an in_progress order after checking the
// verification code, splits the price by the driver's commission rate, frees
// the driver and ends the active trip, all in one unit of work.
func (s *Service) CompleteDelivery(ctx context.Context, orderID, driverID, code string) (*Order, error) {
	var out *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if Terminal(o.Status) {
			return apperr.Conflictf("order is %s", o.Status)
		}
		if !o.AssignedTo(driverID) {
			return apperr.Forbiddenf("order is not assigned to this driver")
		}
		if o.Status != StatusInProgress {
			return apperr.Conflictf("order is %s, expected %s", o.Status, StatusInProgress)
		}
		if !codeMatches(o.VerificationCode, strings.TrimSpace(code)) {
			return apperr.BadRequestf("verification code does not match")
		}
		d, err := s.drivers.Get(ctx, driverID)
		if err != nil {
			return err
		}
		rate := d.CommissionRate
		if !validation.ValidateCommissionRate(rate) {
			s.log.Warnf("driver %s has commission rate %.2f, using default %.2f", d.ID, rate, s.defaultRate)
			rate = s.defaultRate
		}
		driverValue, companyValue := Split(o.Price, rate)

		at := s.now()
		ok, err := s.repo.MarkCompleted(ctx, orderID, driverID, at, driverValue, companyValue)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflictf("order changed concurrently, reload and retry")
		}
		trip, err := s.trips.EndTrip(ctx, driverID, "delivered order "+o.ID)
		if err != nil {
			return err
		}
		if err := s.drivers.SetStatus(ctx, driverID, drivers.StatusOnlineFree); err != nil {
			return err
		}
		o.Status = StatusCompleted
		o.CompletedAt = &at
		o.ValorMotorista = driverValue
		o.ValorEmpresa = companyValue
		out = o
		db.AfterCommit(ctx, func() {
			n := s.notice(o, "")
			if trip != nil {
				n.TripID = trip.ID
			}
			s.notifier.NotifyDashboards(events.DeliveryCompleted, n)
			s.emit(events.TopicDeliveryCompleted, o, "")
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("order %s completed by driver %s: driver %d, company %d", out.ID, driverID, out.ValorMotorista, out.ValorEmpresa)
	return out, nil
}

// Cancel cancels a non-terminal order. An in_progress order's dropoff trip is
// canceled and the driver made available again.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*Order, error) {
	var out *Order
	var prev string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if Terminal(o.Status) {
			return apperr.Conflictf("order is already %s", o.Status)
		}
		if o.AssignedToDriver != nil {
			prev = *o.AssignedToDriver
		}

		at := s.now()
		ok, err := s.repo.MarkCanceled(ctx, orderID, at, reason)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflictf("order changed concurrently, reload and retry")
		}
		if o.Status == StatusInProgress && prev != "" {
			if err := s.releaseDriver(ctx, prev, o.ID, reason); err != nil {
				return err
			}
		}
		o.Status = StatusCanceled
		o.CanceledAt = &at
		o.Notes = reason
		o.AssignedToDriver = nil
		out = o
		db.AfterCommit(ctx, func() {
			n := s.notice(o, reason)
			n.DriverID = prev
			if prev != "" {
				s.notifier.NotifyDriver(prev, events.DeliveryCanceled, n)
			}
			s.notifier.NotifyDashboards(events.DeliveryCanceled, n)
			s.emit(events.TopicOrderCanceled, o, prev)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("order %s canceled: %s", out.ID, reason)
	return out, nil
}

func (s *Service) releaseDriver(ctx context.Context, driverID, orderID, reason string) error {
	t, err := s.trips.Current(ctx, driverID)
	if err != nil {
		return err
	}
	switch {
	case t != nil && t.OrderID != nil && *t.OrderID == orderID:
		_, err = s.trips.CancelTrip(ctx, t.ID, "order canceled: "+reason)
		return err
	case t == nil:
		return s.drivers.SetStatus(ctx, driverID, drivers.StatusOnlineFree)
	}
	return nil
}

// Get fetches an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, apperr.BadRequestf("unknown status %q", f.Status)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperr.BadRequestf("from must not be after to")
	}
	return s.repo.List(ctx, f)
}

// DeleteFinishedBefore removes completed and canceled orders older than cutoff.
func (s *Service) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteFinishedBefore(ctx, cutoff)
}

// notice strips the verification code: it is never pushed to drivers.
func (s *Service) notice(o *Order, reason string) Notice {
	c := *o
	c.VerificationCode = ""
	n := Notice{OrderID: o.ID, Status: o.Status, Reason: reason, Order: &c}
	if o.AssignedToDriver != nil {
		n.DriverID = *o.AssignedToDriver
	}
	return n
}

func (s *Service) emit(topic string, o *Order, prev string) {
	ev := events.OrderEvent{
		OrderID:          o.ID,
		Status:           o.Status,
		PreviousDriverID: prev,
		Price:            o.Price,
		ValorMotorista:   o.ValorMotorista,
		ValorEmpresa:     o.ValorEmpresa,
		At:               s.now(),
	}
	if o.AssignedToDriver != nil {
		ev.DriverID = *o.AssignedToDriver
	}
	events.Emit(s.events, s.log, topic, o.ID, ev)
}
