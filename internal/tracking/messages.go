package tracking

import "fleet-dispatch/internal/geo"

// StatusChange is the driverStatusChanged payload.
type StatusChange struct {
	DriverID string `json:"driver_id"`
	Status   string `json:"status"`
}

// Disconnected is the driverDisconnected payload.
type Disconnected struct {
	DriverID string `json:"driver_id"`
}

// LocationBroadcast is the driverLocationBroadcast payload. TripID and
// DistanceKm are set while the driver has an active trip.
type LocationBroadcast struct {
	DriverID   string     `json:"driver_id"`
	Location   geo.Sample `json:"location"`
	TripID     string     `json:"trip_id,omitempty"`
	DistanceKm float64    `json:"distance_km,omitempty"`
}

// DriverLocation is one entry of the allDriverLocations snapshot.
type DriverLocation struct {
	DriverID string     `json:"driver_id"`
	Name     string     `json:"name"`
	Status   string     `json:"status"`
	Location geo.Sample `json:"location"`
}
