package events

import (
	"context"
	"time"

	"fleet-dispatch/pkg/logger"
)

// Well-known topic names.
const (
	TopicOrderCreated      = "order.created"
	TopicOrderAssigned     = "order.assigned"
	TopicDeliveryStarted   = "delivery.started"
	TopicDeliveryCompleted = "delivery.completed"
	TopicOrderCanceled     = "order.canceled"
	TopicTripStarted       = "trip.started"
	TopicTripCompleted     = "trip.completed"
	TopicTripCanceled      = "trip.canceled"
)

// Realtime event names pushed to websocket clients.
const (
	NewDeliveryAssigned     = "newDeliveryAssigned"
	DeliveryCanceled        = "deliveryCanceled"
	OrderPending            = "orderPending"
	DeliveryStarted         = "deliveryStarted"
	DeliveryCompleted       = "deliveryCompleted"
	DriverStatusChanged     = "driverStatusChanged"
	DriverLocationBroadcast = "driverLocationBroadcast"
	DriverDisconnected      = "driverDisconnected"
	AllDriverLocations      = "allDriverLocations"
)

// Topics lists every topic the core publishes to.
func Topics() []string {
	return []string{
		TopicOrderCreated, TopicOrderAssigned, TopicDeliveryStarted, TopicDeliveryCompleted,
		TopicOrderCanceled, TopicTripStarted, TopicTripCompleted, TopicTripCanceled,
	}
}

// Publisher sends a JSON-serialisable value to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Emit publishes asynchronously and only logs failures. Lifecycle events are
// informational; a broker outage must not fail a dispatch operation.
func Emit(p Publisher, log logger.Logger, topic, key string, value any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Publish(ctx, topic, key, value); err != nil {
			log.Warnf("failed to publish %s for %s: %v", topic, key, err)
			return
		}
		log.Debugf("published %s for %s", topic, key)
	}()
}

// OrderEvent is published on every order transition.
type OrderEvent struct {
	OrderID          string    `json:"order_id"`
	Status           string    `json:"status"`
	DriverID         string    `json:"driver_id,omitempty"`
	PreviousDriverID string    `json:"previous_driver_id,omitempty"`
	Price            int64     `json:"price"`
	ValorMotorista   int64     `json:"valor_motorista"`
	ValorEmpresa     int64     `json:"valor_empresa"`
	At               time.Time `json:"at"`
}

// TripEvent is published when a trip starts or finishes.
type TripEvent struct {
	TripID      string    `json:"trip_id"`
	DriverID    string    `json:"driver_id"`
	OrderID     string    `json:"order_id,omitempty"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	DistanceKm  float64   `json:"distance_km"`
	DurationSec float64   `json:"duration_sec"`
	AvgSpeedKmh float64   `json:"avg_speed_kmh"`
	MaxSpeedKmh float64   `json:"max_speed_kmh"`
	At          time.Time `json:"at"`
}
