package trips

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
)

const selectTrip = `
	SELECT id, driver_id, order_id, type, status, started_at, finished_at,
	       origin_lat, origin_lng, origin_address,
	       destination_lat, destination_lng, destination_address,
	       distance_km, duration_sec, avg_speed_kmh, max_speed_kmh, notes,
	       (SELECT COUNT(*) FROM trip_positions p WHERE p.trip_id = trips.id)
	FROM trips`

type scanner interface {
	Scan(dest ...any) error
}

// PGRepository stores trips in PostgreSQL.
type PGRepository struct{ db *db.DB }

// NewPGRepository creates a PostgreSQL-backed repository.
func NewPGRepository(d *db.DB) *PGRepository { return &PGRepository{db: d} }

func (r *PGRepository) Create(ctx context.Context, t *Trip) error {
	oLat, oLng, oAddr := placeColumns(t.Origin)
	dLat, dLng, dAddr := placeColumns(t.Destination)
	_, err := r.db.Q(ctx).Exec(ctx,
		`INSERT INTO trips (id,driver_id,order_id,type,status,started_at,
		                    origin_lat,origin_lng,origin_address,
		                    destination_lat,destination_lng,destination_address,notes)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.DriverID, t.OrderID, t.Type, t.Status, t.StartedAt,
		oLat, oLng, oAddr, dLat, dLng, dAddr, t.Notes)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (*Trip, error) {
	t, err := r.getOne(ctx, selectTrip+` WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Q(ctx).Query(ctx,
		`SELECT lat,lng,speed,heading,accuracy,recorded_at
		 FROM trip_positions WHERE trip_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("select positions: %w", err)
	}
	defer rows.Close()
	t.Positions = []geo.Sample{}
	for rows.Next() {
		var s geo.Sample
		if err := rows.Scan(&s.Lat, &s.Lng, &s.Speed, &s.Heading, &s.Accuracy, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		t.Positions = append(t.Positions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n := len(t.Positions); n > 0 {
		last := t.Positions[n-1]
		t.LastPosition = &last
	}
	return t, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, id string) (*Trip, error) {
	var locked string
	err := r.db.Q(ctx).QueryRow(ctx, `SELECT id FROM trips WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("trip not found")
	}
	if db.IsInvalidInput(err) {
		return nil, apperr.BadRequestf("invalid trip id")
	}
	if err != nil {
		return nil, fmt.Errorf("lock trip: %w", err)
	}
	t, err := r.getOne(ctx, selectTrip+` WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	var s geo.Sample
	err = r.db.Q(ctx).QueryRow(ctx,
		`SELECT lat,lng,speed,heading,accuracy,recorded_at
		 FROM trip_positions WHERE trip_id=$1 ORDER BY seq DESC LIMIT 1`, id).
		Scan(&s.Lat, &s.Lng, &s.Speed, &s.Heading, &s.Accuracy, &s.RecordedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("select last position: %w", err)
	default:
		t.LastPosition = &s
	}
	return t, nil
}

func (r *PGRepository) getOne(ctx context.Context, query string, args ...any) (*Trip, error) {
	t, err := scanTrip(r.db.Q(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("trip not found")
	}
	if db.IsInvalidInput(err) {
		return nil, apperr.BadRequestf("invalid trip id")
	}
	if err != nil {
		return nil, fmt.Errorf("select trip: %w", err)
	}
	return t, nil
}

func (r *PGRepository) AppendPosition(ctx context.Context, tripID string, seq int, s geo.Sample, m Metrics) error {
	q := r.db.Q(ctx)
	if _, err := q.Exec(ctx,
		`INSERT INTO trip_positions (trip_id,seq,lat,lng,speed,heading,accuracy,recorded_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		tripID, seq, s.Lat, s.Lng, s.Speed, s.Heading, s.Accuracy, s.RecordedAt); err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	tag, err := q.Exec(ctx,
		`UPDATE trips SET distance_km=$2, duration_sec=$3, avg_speed_kmh=$4, max_speed_kmh=$5
		 WHERE id=$1 AND status=$6`,
		tripID, m.DistanceKm, m.DurationSec, m.AvgSpeedKmh, m.MaxSpeedKmh, StatusInProgress)
	if err != nil {
		return fmt.Errorf("update trip metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflictf("trip is not in progress")
	}
	return nil
}

func (r *PGRepository) Finish(ctx context.Context, id, status string, finishedAt time.Time, m Metrics, notes string) error {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE trips
		 SET status=$2, finished_at=$3, distance_km=$4, duration_sec=$5,
		     avg_speed_kmh=$6, max_speed_kmh=$7, notes=$8
		 WHERE id=$1 AND status=$9`,
		id, status, finishedAt, m.DistanceKm, m.DurationSec, m.AvgSpeedKmh, m.MaxSpeedKmh,
		notes, StatusInProgress)
	if err != nil {
		return fmt.Errorf("finish trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflictf("trip is not in progress")
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, f Filter) ([]Trip, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DriverID != "" {
		add("driver_id=$%d", f.DriverID)
	}
	if f.Type != "" {
		add("type=$%d", f.Type)
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.From != nil {
		add("started_at>=$%d", *f.From)
	}
	if f.To != nil {
		add("started_at<=$%d", *f.To)
	}
	query := selectTrip
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()
	out := []Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PGRepository) Stats(ctx context.Context, from, to time.Time) ([]TypeStats, error) {
	rows, err := r.db.Q(ctx).Query(ctx,
		`SELECT type, COUNT(*), COALESCE(SUM(distance_km),0), COALESCE(SUM(duration_sec),0)
		 FROM trips
		 WHERE started_at >= $1 AND started_at <= $2
		 GROUP BY type ORDER BY type`, from, to)
	if err != nil {
		return nil, fmt.Errorf("trip stats: %w", err)
	}
	defer rows.Close()
	out := []TypeStats{}
	for rows.Next() {
		var s TypeStats
		if err := rows.Scan(&s.Type, &s.Count, &s.TotalDistanceKm, &s.TotalDurationSec); err != nil {
			return nil, fmt.Errorf("scan trip stats: %w", err)
		}
		s.AvgSpeedKmh = avgSpeed(s.TotalDistanceKm, s.TotalDurationSec)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`DELETE FROM trips WHERE status IN ($1,$2) AND finished_at < $3`,
		StatusCompleted, StatusCanceled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete trips: %w", err)
	}
	return tag.RowsAffected(), nil
}

func placeColumns(p *Place) (lat, lng *float64, addr string) {
	if p == nil {
		return nil, nil, ""
	}
	if p.Point != nil {
		lat, lng = &p.Point.Lat, &p.Point.Lng
	}
	return lat, lng, p.Address
}

func placeFrom(lat, lng *float64, addr string) *Place {
	if lat == nil && addr == "" {
		return nil
	}
	p := &Place{Address: addr}
	if lat != nil && lng != nil {
		p.Point = &geo.Point{Lat: *lat, Lng: *lng}
	}
	return p
}

func scanTrip(row scanner) (*Trip, error) {
	var t Trip
	var oLat, oLng, dLat, dLng *float64
	var oAddr, dAddr string
	err := row.Scan(&t.ID, &t.DriverID, &t.OrderID, &t.Type, &t.Status, &t.StartedAt, &t.FinishedAt,
		&oLat, &oLng, &oAddr, &dLat, &dLng, &dAddr,
		&t.Metrics.DistanceKm, &t.Metrics.DurationSec, &t.Metrics.AvgSpeedKmh, &t.Metrics.MaxSpeedKmh,
		&t.Notes, &t.PositionCount)
	if err != nil {
		return nil, err
	}
	t.Origin = placeFrom(oLat, oLng, oAddr)
	t.Destination = placeFrom(dLat, dLng, dAddr)
	return &t, nil
}
