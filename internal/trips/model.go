package trips

import (
	"time"

	"fleet-dispatch/internal/geo"
)

// Trip types.
const (
	TypePickup       = "pickup"
	TypeDropoff      = "dropoff"
	TypeReturnToBase = "return_to_base"
	TypeBreak        = "break"
	TypeOther        = "other"
)

// Trip lifecycle states.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
)

// ValidType reports whether t is a known trip type.
func ValidType(t string) bool {
	switch t {
	case TypePickup, TypeDropoff, TypeReturnToBase, TypeBreak, TypeOther:
		return true
	}
	return false
}

// Place is an optional coordinate with a free-text address.
type Place struct {
	Point   *geo.Point `json:"point,omitempty"`
	Address string     `json:"address,omitempty"`
}

// Metrics are derived from the position trace.
type Metrics struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationSec float64 `json:"duration_sec"`
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`
	MaxSpeedKmh float64 `json:"max_speed_kmh"`
}

// Trip is one continuous tracked movement of a driver.
type Trip struct {
	ID            string       `json:"id"`
	DriverID      string       `json:"driver_id"`
	OrderID       *string      `json:"order_id,omitempty"`
	Type          string       `json:"type"`
	Status        string       `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Origin        *Place       `json:"origin,omitempty"`
	Destination   *Place       `json:"destination,omitempty"`
	Metrics       Metrics      `json:"metrics"`
	Notes         string       `json:"notes,omitempty"`
	PositionCount int          `json:"position_count"`
	LastPosition  *geo.Sample  `json:"last_position,omitempty"`
	Positions     []geo.Sample `json:"positions,omitempty"`
}

// StartRequest is the body for POST /trips/start. DriverID is taken from the
// caller's token for drivers; staff must supply it.
type StartRequest struct {
	DriverID    string  `json:"driver_id"`
	Type        string  `json:"type"`
	OrderID     *string `json:"order_id,omitempty"`
	Origin      *Place  `json:"origin,omitempty"`
	Destination *Place  `json:"destination,omitempty"`
}

// EndRequest is the optional body for POST /trips/end.
type EndRequest struct {
	DriverID string `json:"driver_id"`
	Notes    string `json:"notes"`
}

// CancelRequest is the body for PATCH /trips/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Filter narrows History results. Zero values match everything.
type Filter struct {
	DriverID string
	Type     string
	Status   string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// TypeStats aggregates trips of one type over a period.
type TypeStats struct {
	Type             string  `json:"type"`
	Count            int     `json:"count"`
	TotalDistanceKm  float64 `json:"total_distance_km"`
	TotalDurationSec float64 `json:"total_duration_sec"`
	AvgSpeedKmh      float64 `json:"avg_speed_kmh"`
}

// Live is the cached view of an in-progress trip.
type Live struct {
	TripID   string      `json:"trip_id"`
	DriverID string      `json:"driver_id"`
	Status   string      `json:"status"`
	Metrics  Metrics     `json:"metrics"`
	Position *geo.Sample `json:"position,omitempty"`
}
