package orders

import (
	"time"

	"fleet-dispatch/internal/geo"
)

// Order lifecycle states.
const (
	StatusPending    = "pending"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
)

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func Terminal(s string) bool { return s == StatusCompleted || s == StatusCanceled }

// Order is a customer delivery request. Money fields are integer cents.
type Order struct {
	ID               string     `json:"id"`
	ServiceType      string     `json:"service_type"`
	Price            int64      `json:"price"`
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    string     `json:"customer_phone"`
	Address          string     `json:"address"`
	Location         *geo.Point `json:"location,omitempty"`
	ImageURL         string     `json:"image_url,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
	CreatedBy        string     `json:"created_by"`
	AssignedToDriver *string    `json:"assigned_to_driver,omitempty"`
	Status           string     `json:"status"`
	ValorMotorista   int64      `json:"valor_motorista"`
	ValorEmpresa     int64      `json:"valor_empresa"`
	Notes            string     `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
}

// AssignedTo reports whether the order is assigned to driverID.
func (o *Order) AssignedTo(driverID string) bool {
	return o.AssignedToDriver != nil && *o.AssignedToDriver == driverID
}

// CreateRequest is the body for POST /orders.
type CreateRequest struct {
	ServiceType   string     `json:"service_type"`
	Price         int64      `json:"price"`
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone"`
	Address       string     `json:"address"`
	Location      *geo.Point `json:"location,omitempty"`
	ImageURL      string     `json:"image_url"`
	Notes         string     `json:"notes"`
	AutoAssign    bool       `json:"auto_assign"`
}

// AssignRequest is the body for PATCH /orders/{id}/assign.
type AssignRequest struct {
	DriverID string `json:"driver_id"`
}

// CompleteRequest is the body for PATCH /orders/{id}/complete.
type CompleteRequest struct {
	Code string `json:"code"`
}

// CancelRequest is the body for PATCH /orders/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DriverID string
	Status   string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// Notice is the realtime payload sent about an order.
type Notice struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	DriverID string `json:"driver_id,omitempty"`
	TripID   string `json:"trip_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Order    *Order `json:"order,omitempty"`
}
