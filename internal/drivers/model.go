package drivers

import (
	"time"

	"fleet-dispatch/internal/geo"
)

// Operational statuses of a driver profile.
const (
	StatusOnlineFree = "online_free"
	StatusOnlineBusy = "online_busy"
	StatusOffline    = "offline"
)

// ValidStatus reports whether s is a known profile status.
func ValidStatus(s string) bool {
	return s == StatusOnlineFree || s == StatusOnlineBusy || s == StatusOffline
}

// Stats are the rolling totals of completed trips.
type Stats struct {
	TotalTrips       int        `json:"total_trips"`
	TotalDistanceKm  float64    `json:"total_distance_km"`
	TotalDurationSec float64    `json:"total_duration_sec"`
	LastTripEndedAt  *time.Time `json:"last_trip_ended_at,omitempty"`
}

// Driver is the operational profile of a driver account.
type Driver struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Name           string      `json:"name"`
	Email          string      `json:"email"`
	Phone          string      `json:"phone"`
	VehiclePlate   string      `json:"vehicle_plate"`
	Status         string      `json:"status"`
	CommissionRate float64     `json:"commission_rate"`
	LastLocation   *geo.Sample `json:"last_location,omitempty"`
	CurrentTripID  *string     `json:"current_trip_id,omitempty"`
	Stats          Stats       `json:"stats"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Status string
}

// RegisterRequest is the body for POST /drivers/register.
type RegisterRequest struct {
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Password       string   `json:"password"`
	VehiclePlate   string   `json:"vehicle_plate"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
}

// LoginRequest is the body for POST /drivers/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CommissionUpdate is the body for PATCH /drivers/{id}/commission.
type CommissionUpdate struct {
	Rate float64 `json:"commission_rate"`
}

// AuthResponse is returned on register / login.
type AuthResponse struct {
	Token  string  `json:"token"`
	Driver *Driver `json:"driver,omitempty"`
}
