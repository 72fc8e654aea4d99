package orders

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

const selectOrder = `
	SELECT id, service_type, price, customer_name, customer_phone, address, lat, lng, image_url,
	       verification_code, created_by, assigned_to_driver, status, valor_motorista, valor_empresa,
	       notes, created_at, started_at, completed_at, canceled_at
	FROM orders`

type scanner interface {
	Scan(dest ...any) error
}

// PGRepository stores orders in PostgreSQL.
type PGRepository struct{ db *db.DB }

// NewPGRepository creates a PostgreSQL-backed repository.
func NewPGRepository(d *db.DB) *PGRepository { return &PGRepository{db: d} }

func (r *PGRepository) Create(ctx context.Context, o *Order) error {
	var lat, lng *float64
	if o.Location != nil {
		lat, lng = &o.Location.Lat, &o.Location.Lng
	}
	var createdBy *string
	if o.CreatedBy != "" {
		createdBy = &o.CreatedBy
	}
	_, err := r.db.Q(ctx).Exec(ctx,
		`INSERT INTO orders (id,service_type,price,customer_name,customer_phone,address,lat,lng,
		                     image_url,verification_code,created_by,assigned_to_driver,status,notes,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.ServiceType, o.Price, o.CustomerName, o.CustomerPhone, o.Address, lat, lng,
		o.ImageURL, o.VerificationCode, createdBy, o.AssignedToDriver, o.Status, o.Notes, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, selectOrder+` WHERE id=$1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, selectOrder+` WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGRepository) getOne(ctx context.Context, query, id string) (*Order, error) {
	o, err := scanOrder(r.db.Q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("order not found")
	}
	if db.IsInvalidInput(err) {
		return nil, apperr.BadRequestf("invalid order id")
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return o, nil
}

func (r *PGRepository) CompareAndAssign(ctx context.Context, id, driverID, expectStatus string, expectDriver *string) (bool, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE orders SET assigned_to_driver=$2, status=$3
		 WHERE id=$1 AND status=$4 AND assigned_to_driver IS NOT DISTINCT FROM $5::uuid`,
		id, driverID, StatusAssigned, expectStatus, expectDriver)
	if err != nil {
		return false, fmt.Errorf("assign order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkStarted(ctx context.Context, id, driverID string, at time.Time) (bool, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE orders SET status=$3, started_at=$4
		 WHERE id=$1 AND assigned_to_driver=$2 AND status=$5`,
		id, driverID, StatusInProgress, at, StatusAssigned)
	if err != nil {
		return false, fmt.Errorf("start order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkCompleted(ctx context.Context, id, driverID string, at time.Time, valorMotorista, valorEmpresa int64) (bool, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE orders SET status=$3, completed_at=$4, valor_motorista=$5, valor_empresa=$6
		 WHERE id=$1 AND assigned_to_driver=$2 AND status=$7`,
		id, driverID, StatusCompleted, at, valorMotorista, valorEmpresa, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkCanceled(ctx context.Context, id string, at time.Time, notes string) (bool, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`UPDATE orders SET status=$2, canceled_at=$3, notes=$4, assigned_to_driver=NULL
		 WHERE id=$1 AND status IN ($5,$6,$7)`,
		id, StatusCanceled, at, notes, StatusPending, StatusAssigned, StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) List(ctx context.Context, f Filter) ([]Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DriverID != "" {
		add("assigned_to_driver=$%d", f.DriverID)
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.From != nil {
		add("created_at>=$%d", *f.From)
	}
	if f.To != nil {
		add("created_at<=$%d", *f.To)
	}
	query := selectOrder
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Q(ctx).Exec(ctx,
		`DELETE FROM orders
		 WHERE (status=$1 AND completed_at < $3) OR (status=$2 AND canceled_at < $3)`,
		StatusCompleted, StatusCanceled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOrder(row scanner) (*Order, error) {
	var o Order
	var lat, lng *float64
	var createdBy *string
	err := row.Scan(&o.ID, &o.ServiceType, &o.Price, &o.CustomerName, &o.CustomerPhone, &o.Address,
		&lat, &lng, &o.ImageURL, &o.VerificationCode, &createdBy, &o.AssignedToDriver, &o.Status,
		&o.ValorMotorista, &o.ValorEmpresa, &o.Notes, &o.CreatedAt, &o.StartedAt, &o.CompletedAt,
		&o.CanceledAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		o.Location = &geo.Point{Lat: *lat, Lng: *lng}
	}
	if createdBy != nil {
		o.CreatedBy = *createdBy
	}
	return &o, nil
}
