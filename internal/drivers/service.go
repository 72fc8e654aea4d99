package drivers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
	rredis "fleet-dispatch/pkg/redis"
	"fleet-dispatch/pkg/validation"
)

// StatusListener is told about committed profile status changes.
type StatusListener interface {
	DriverStatusChanged(driverID, status string)
}

// Service contains driver business logic.
type Service struct {
	repo        Repository
	accounts    *users.Service
	tx          db.Transactor
	index       LocationIndex
	defaultRate float64
	log         logger.Logger
	listener    StatusListener
}

// NewService creates a driver service. defaultRate is the commission given
// to drivers registered without one.
func NewService(repo Repository, accounts *users.Service, tx db.Transactor, index LocationIndex, defaultRate float64, log logger.Logger) *Service {
	return &Service{
		repo:        repo,
		accounts:    accounts,
		tx:          tx,
		index:       index,
		defaultRate: defaultRate,
		log:         log,
	}
}

// SetStatusListener registers the receiver of status change callbacks.
func (s *Service) SetStatusListener(l StatusListener) { s.listener = l }

// Register creates the login identity and the driver profile in one unit of
// work and returns a JWT for the new driver.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	rate := s.defaultRate
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
	}
	if !validation.ValidateCommissionRate(rate) {
		return nil, apperr.BadRequestf("commission_rate must be between 0 and 100")
	}
	plate := strings.ToUpper(strings.TrimSpace(req.VehiclePlate))
	if len(plate) > 20 {
		return nil, apperr.BadRequestf("vehicle_plate too long")
	}

	u, err := users.NewUser(users.RegisterRequest{
		Name: req.Name, Email: req.Email, Phone: req.Phone, Password: req.Password,
	}, users.RoleDriver)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d := &Driver{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		VehiclePlate:   plate,
		Status:         StatusOffline,
		CommissionRate: rate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.accounts.CreateAccount(ctx, u); err != nil {
			return err
		}
		return s.repo.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("registered driver %s (user %s)", d.ID, u.ID)

	token, err := s.issueToken(u, d)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Driver: d}, nil
}

// Login authenticates a driver and returns a JWT.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	u, err := s.accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if u.Role != users.RoleDriver {
		return nil, apperr.Forbiddenf("not a driver account")
	}
	d, err := s.repo.GetByUserID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.issueToken(u, d)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Driver: d}, nil
}

func (s *Service) issueToken(u *users.User, d *Driver) (string, error) {
	return jwt.Generate(jwt.Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Role:     users.RoleDriver,
		DriverID: d.ID,
	})
}

// Get fetches a driver profile by id.
func (s *Service) Get(ctx context.Context, id string) (*Driver, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns profiles, optionally filtered by status.
func (s *Service) List(ctx context.Context, f Filter) ([]Driver, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, apperr.BadRequestf("unknown status %q", f.Status)
	}
	return s.repo.List(ctx, f)
}

// SetStatus persists a status change. The location index and the status
// listener are updated once the surrounding unit of work commits.
func (s *Service) SetStatus(ctx context.Context, id, status string) error {
	if !ValidStatus(status) {
		return apperr.BadRequestf("unknown status %q", status)
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}
	db.AfterCommit(ctx, func() {
		s.syncIndex(context.WithoutCancel(ctx), id, status, d.LastLocation)
		if s.listener != nil {
			s.listener.DriverStatusChanged(id, status)
		}
	})
	return nil
}

// UpdateLocation refreshes the profile's cached location. Free drivers are
// also moved in the location index.
func (s *Service) UpdateLocation(ctx context.Context, id string, sample geo.Sample) error {
	if !validation.ValidateCoordinates(sample.Lat, sample.Lng) {
		return apperr.BadRequestf("invalid coordinates")
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateLocation(ctx, id, sample); err != nil {
		return err
	}
	if d.Status == StatusOnlineFree {
		s.syncIndex(ctx, id, d.Status, &sample)
	}
	return nil
}

func (s *Service) syncIndex(ctx context.Context, id, status string, loc *geo.Sample) {
	var err error
	if status == StatusOnlineFree && loc != nil {
		err = s.index.SetDriverLocation(ctx, id, loc.Lat, loc.Lng)
	} else if status != StatusOnlineFree {
		err = s.index.RemoveDriverLocation(ctx, id)
	}
	if err != nil {
		s.log.Warnf("location index update for driver %s: %v", id, err)
	}
}

// Nearby lists free drivers within radiusKm of (lat,lng), nearest first.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKm float64, count int) ([]rredis.Nearby, error) {
	if !validation.ValidateCoordinates(lat, lng) {
		return nil, apperr.BadRequestf("invalid coordinates")
	}
	if radiusKm <= 0 {
		radiusKm = 5
	}
	if count <= 0 {
		count = 10
	}
	return s.index.NearbyDrivers(ctx, lat, lng, radiusKm, count)
}

// UpdateCommission changes a driver's commission rate.
func (s *Service) UpdateCommission(ctx context.Context, id string, rate float64) (*Driver, error) {
	if !validation.ValidateCommissionRate(rate) {
		return nil, apperr.BadRequestf("commission_rate must be between 0 and 100")
	}
	if err := s.repo.UpdateCommission(ctx, id, rate); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// The methods below let the trip recorder maintain the profile without
// depending on the repository type.

// SetCurrentTrip points the driver at tripID or fails with Conflict.
func (s *Service) SetCurrentTrip(ctx context.Context, id, tripID string) error {
	return s.repo.SetCurrentTrip(ctx, id, tripID)
}

// ClearCurrentTrip clears the pointer if it still references tripID.
func (s *Service) ClearCurrentTrip(ctx context.Context, id, tripID string) (bool, error) {
	return s.repo.ClearCurrentTrip(ctx, id, tripID)
}

// AddTripStats folds a completed trip into the rolling statistics.
func (s *Service) AddTripStats(ctx context.Context, id string, distanceKm, durationSec float64, endedAt time.Time) error {
	return s.repo.AddTripStats(ctx, id, distanceKm, durationSec, endedAt)
}
