package drivers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
)

const selectDriver = `
	SELECT d.id, d.user_id, u.name, u.email, u.phone, d.vehicle_plate, d.status, d.commission_rate,
	       d.last_lat, d.last_lng, d.last_speed, d.last_heading, d.last_accuracy, d.last_location_at,
	       d.current_trip_id, d.total_trips, d.total_distance_km, d.total_duration_sec,
	       d.last_trip_ended_at, d.created_at, d.updated_at
	FROM driver_profiles d JOIN users u ON u.id = d.user_id`

type scanner interface {
	Scan(dest ...any) error
}

// PGRepository stores driver profiles in PostgreSQL.
type PGRepository struct{ db *db.DB }

// NewPGRepository creates a PostgreSQL-backed repository.
func NewPGRepository(d *db.DB) *PGRepository { return &PGRepository{db: d} }

func (r *PGRepository) Create(ctx context.Context, d *Driver) error {
	_, err := r.db.Q(ctx).Exec(ctx,
		`INSERT INTO driver_profiles (id,user_id,vehicle_plate,status,commission_rate,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		d.ID, d.UserID, d.VehiclePlate, d.Status, d.CommissionRate, d.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflictf("driver profile already exists")
	}
	if err != nil {
		return fmt.Errorf("insert driver profile: %w", err)
	}
	return nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*Driver, error) {
	return r.getOne(ctx, selectDriver+` WHERE d.id=$1`, id)
}

func (r *PGRepository) GetByUserID(ctx context.Context, userID string) (*Driver, error) {
	return r.getOne(ctx, selectDriver+` WHERE d.user_id=$1`, userID)
}

func (r *PGRepository) getOne(ctx context.Context, query string, arg any) (*Driver, error) {
	d, err := scanDriver(r.db.Q(ctx).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("driver not found")
	}
	if db.IsInvalidInput(err) {
		return nil, apperr.BadRequestf("invalid driver id")
	}
	if err != nil {
		return nil, fmt.Errorf("select driver: %w", err)
	}
	return d, nil
}

func (r *PGRepository) List(ctx context.Context, f Filter) ([]Driver, error) {
	query := selectDriver
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		query += ` WHERE d.status=$1`
	}
	query += ` ORDER BY d.id`

	rows, err := r.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()

	out := []Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PGRepository) SetStatus(ctx context.Context, id, status string) error {
	return r.execOne(ctx,
		`UPDATE driver_profiles SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
}

func (r *PGRepository) UpdateLocation(ctx context.Context, id string, s geo.Sample) error {
	return r.execOne(ctx,
		`UPDATE driver_profiles
		 SET last_lat=$2, last_lng=$3, last_speed=$4, last_heading=$5, last_accuracy=$6,
		     last_location_at=$7, updated_at=NOW()
		 WHERE id=$1`,
		id, s.Lat, s.Lng, s.Speed, s.Heading, s.Accuracy, s.RecordedAt)
}

func (r *PGRepository) SetCurrentTrip(ctx context.Context, id, tripID string) error {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE driver_profiles SET current_trip_id=$2, updated_at=NOW()
		 WHERE id=$1 AND current_trip_id IS NULL`, id, tripID)
	if err != nil {
		return fmt.Errorf("set current trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return apperr.Conflictf("driver already has an active trip")
	}
	return nil
}

func (r *PGRepository) ClearCurrentTrip(ctx context.Context, id, tripID string) (bool, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE driver_profiles SET current_trip_id=NULL, updated_at=NOW()
		 WHERE id=$1 AND current_trip_id=$2`, id, tripID)
	if err != nil {
		return false, fmt.Errorf("clear current trip: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) AddTripStats(ctx context.Context, id string, distanceKm, durationSec float64, endedAt time.Time) error {
	return r.execOne(ctx,
		`UPDATE driver_profiles
		 SET total_trips = total_trips + 1,
		     total_distance_km = total_distance_km + $2,
		     total_duration_sec = total_duration_sec + $3,
		     last_trip_ended_at = $4,
		     updated_at = NOW()
		 WHERE id=$1`, id, distanceKm, durationSec, endedAt)
}

func (r *PGRepository) UpdateCommission(ctx context.Context, id string, rate float64) error {
	return r.execOne(ctx,
		`UPDATE driver_profiles SET commission_rate=$2, updated_at=NOW() WHERE id=$1`, id, rate)
}

func (r *PGRepository) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Q(ctx).Exec(ctx, sql, args...)
	if err != nil {
		op, _, _ := strings.Cut(strings.TrimSpace(sql), "\n")
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("driver not found")
	}
	return nil
}

func scanDriver(row scanner) (*Driver, error) {
	var d Driver
	var lat, lng, speed, heading, accuracy *float64
	var locAt *time.Time
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Email, &d.Phone, &d.VehiclePlate, &d.Status,
		&d.CommissionRate, &lat, &lng, &speed, &heading, &accuracy, &locAt,
		&d.CurrentTripID, &d.Stats.TotalTrips, &d.Stats.TotalDistanceKm, &d.Stats.TotalDurationSec,
		&d.Stats.LastTripEndedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		s := geo.Sample{Lat: *lat, Lng: *lng}
		if speed != nil {
			s.Speed = *speed
		}
		if heading != nil {
			s.Heading = *heading
		}
		if accuracy != nil {
			s.Accuracy = *accuracy
		}
		if locAt != nil {
			s.RecordedAt = *locAt
		}
		d.LastLocation = &s
	}
	return &d, nil
}
