// Package tracking is the realtime gateway: authenticated websocket sessions
// for drivers and dispatch dashboards, position fan-in and event fan-out.
package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/metrics"
	"fleet-dispatch/internal/presence"
	"fleet-dispatch/internal/trips"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
	"fleet-dispatch/pkg/validation"
)

// Inbound event names.
const (
	eventLocationUpdate      = "locationUpdate"
	eventRequestAllLocations = "requestAllLocations"
)

// DriverStore is the slice of the driver service the gateway needs.
type DriverStore interface {
	Get(ctx context.Context, id string) (*drivers.Driver, error)
	SetStatus(ctx context.Context, id, status string) error
	UpdateLocation(ctx context.Context, id string, sample geo.Sample) error
}

// PositionRecorder feeds samples into the driver's active trip.
type PositionRecorder interface {
	RecordPosition(ctx context.Context, driverID string, sample geo.Sample) (*trips.Trip, error)
}

type client struct {
	id   string
	conn *safeConn
	who  presence.Identity
}

// Gateway owns every live websocket connection. It implements
// orders.Notifier, drivers.StatusListener and trips.PositionReporter.
type Gateway struct {
	registry *presence.Registry
	drivers  DriverStore
	trips    PositionRecorder
	metrics  metrics.Sink
	log      logger.Logger

	sessions driverLocks

	mu      sync.RWMutex
	clients map[string]*client
}

// NewGateway creates a gateway over registry.
func NewGateway(registry *presence.Registry, ds DriverStore, tr PositionRecorder, m metrics.Sink, log logger.Logger) *Gateway {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Gateway{
		registry: registry,
		drivers:  ds,
		trips:    tr,
		metrics:  m,
		log:      log,
		clients:  make(map[string]*client),
	}
}

// ServeHTTP authenticates, upgrades and serves one connection until it
// closes. Authentication failures are answered before the upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := jwt.Validate(jwt.TokenFromRequest(r))
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	who, ok := identityFor(claims)
	if !ok {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnf("upgrade for user %s: %v", claims.UserID, err)
		return
	}
	c := &client{id: uuid.New().String(), conn: &safeConn{ws: ws}, who: who}
	ctx := context.WithoutCancel(r.Context())

	if err := g.connect(ctx, c); err != nil {
		g.log.Warnf("connect %s (%s): %v", c.id, who.Role, err)
		c.conn.close()
		return
	}
	defer g.disconnect(ctx, c)

	done := make(chan struct{})
	defer close(done)
	go g.keepalive(c, done)

	g.readLoop(ctx, c)
}

func identityFor(c *jwt.Claims) (presence.Identity, bool) {
	who := presence.Identity{UserID: c.UserID, Name: c.Name}
	switch c.Role {
	case users.RoleDriver:
		if c.DriverID == "" {
			return who, false
		}
		who.Role = presence.RoleDriver
		who.DriverID = c.DriverID
	case users.RoleAdmin, users.RoleDispatcher:
		who.Role = presence.RoleDashboard
	default:
		return who, false
	}
	return who, true
}

func (g *Gateway) connect(ctx context.Context, c *client) error {
	if c.who.Role != presence.RoleDriver {
		g.registry.Register(c.id, c.who, "")
		g.track(c)
		g.send(c, events.AllDriverLocations, g.allLocations())
		g.opened(c)
		return nil
	}

	unlock := g.sessions.lock(c.who.DriverID)
	defer unlock()
	d, err := g.drivers.Get(ctx, c.who.DriverID)
	if err != nil {
		return err
	}
	status := drivers.StatusOnlineFree
	if d.CurrentTripID != nil {
		status = drivers.StatusOnlineBusy
	}
	g.registry.Register(c.id, c.who, d.Status)
	g.track(c)
	// Written even when unchanged so every session of the driver converges.
	if err := g.drivers.SetStatus(ctx, d.ID, status); err != nil {
		g.untrack(c)
		g.registry.Remove(c.id)
		return err
	}
	g.opened(c)
	return nil
}

func (g *Gateway) opened(c *client) {
	g.metrics.ConnectionOpened(string(c.who.Role))
	g.log.Infof("%s connected: user %s conn %s", c.who.Role, c.who.UserID, c.id)
}

func (g *Gateway) disconnect(ctx context.Context, c *client) {
	c.conn.close()
	g.untrack(c)
	if c.who.Role == presence.RoleDriver {
		unlock := g.sessions.lock(c.who.DriverID)
		defer unlock()
	}
	if _, ok := g.registry.Remove(c.id); !ok {
		return
	}
	g.metrics.ConnectionClosed(string(c.who.Role))
	g.log.Infof("%s disconnected: user %s conn %s", c.who.Role, c.who.UserID, c.id)

	if c.who.Role != presence.RoleDriver || g.registry.DriverConnected(c.who.DriverID) {
		return
	}
	driverID := c.who.DriverID
	d, err := g.drivers.Get(ctx, driverID)
	if err != nil {
		g.log.Warnf("disconnect: load driver %s: %v", driverID, err)
	} else if d.CurrentTripID == nil {
		// The status listener broadcasts driverStatusChanged.
		if err := g.drivers.SetStatus(ctx, driverID, drivers.StatusOffline); err != nil {
			g.log.Warnf("disconnect: set driver %s offline: %v", driverID, err)
		}
	} else {
		g.NotifyDashboards(events.DriverStatusChanged, StatusChange{DriverID: driverID, Status: d.Status})
	}
	g.NotifyDashboards(events.DriverDisconnected, Disconnected{DriverID: driverID})
}

// driverLocks serializes session setup and teardown per driver so a
// reconnect cannot interleave with the old session's offline write.
type driverLocks struct {
	mu   sync.Mutex
	held map[string]*driverLock
}

type driverLock struct {
	sync.Mutex
	refs int
}

func (l *driverLocks) lock(driverID string) (unlock func()) {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*driverLock)
	}
	e, ok := l.held[driverID]
	if !ok {
		e = &driverLock{}
		l.held[driverID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		l.mu.Lock()
		if e.refs--; e.refs == 0 {
			delete(l.held, driverID)
		}
		l.mu.Unlock()
	}
}

func (g *Gateway) keepalive(c *client, done <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.conn.ping(); err != nil {
				g.log.Debugf("ping %s: %v", c.id, err)
				c.conn.close()
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	c.conn.prepareRead()
	for {
		_, raw, err := c.conn.readMessage()
		if err != nil {
			return
		}
		var msg envelope[json.RawMessage]
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.log.Debugf("conn %s sent malformed frame: %v", c.id, err)
			continue
		}
		switch {
		case msg.Type == eventLocationUpdate && c.who.Role == presence.RoleDriver:
			g.handleLocation(ctx, c, msg.Data)
		case msg.Type == eventRequestAllLocations && c.who.Role == presence.RoleDashboard:
			g.send(c, events.AllDriverLocations, g.allLocations())
		default:
			g.log.Debugf("conn %s: ignoring %q from %s", c.id, msg.Type, c.who.Role)
		}
	}
}

func (g *Gateway) handleLocation(ctx context.Context, c *client, data json.RawMessage) {
	var f geo.Fix
	if err := json.Unmarshal(data, &f); err != nil {
		g.log.Debugf("conn %s: malformed location update: %v", c.id, err)
		return
	}
	s, ok := f.Sample()
	if !ok || !validation.ValidateCoordinates(s.Lat, s.Lng) {
		g.log.Debugf("conn %s: dropping location update without finite coordinates", c.id)
		return
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now().UTC()
	}
	g.registry.UpdateLocation(c.id, s, "")
	if _, err := g.record(metrics.WithSource(ctx, metrics.SourceWebsocket), c.who.DriverID, s); err != nil {
		g.log.Warnf("location update from driver %s: %v", c.who.DriverID, err)
	}
}

// ReportPosition is the position entry point for the HTTP route and the
// telematics ingest. Every live session of the driver is updated.
func (g *Gateway) ReportPosition(ctx context.Context, driverID string, s geo.Sample) (*trips.Trip, error) {
	if !validation.ValidateCoordinates(s.Lat, s.Lng) {
		return nil, apperr.BadRequestf("invalid coordinates")
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now().UTC()
	}
	g.registry.UpdateDriverLocation(driverID, s)
	return g.record(ctx, driverID, s)
}

// record updates the profile cache, feeds the trip recorder and tells the
// dashboards.
func (g *Gateway) record(ctx context.Context, driverID string, s geo.Sample) (*trips.Trip, error) {
	if err := g.drivers.UpdateLocation(ctx, driverID, s); err != nil {
		return nil, err
	}
	t, err := g.trips.RecordPosition(ctx, driverID, s)
	if err != nil {
		return nil, err
	}
	g.metrics.PositionReceived(metrics.SourceFrom(ctx), t != nil)

	b := LocationBroadcast{DriverID: driverID, Location: s}
	if t != nil {
		b.TripID = t.ID
		b.DistanceKm = t.Metrics.DistanceKm
	}
	g.NotifyDashboards(events.DriverLocationBroadcast, b)
	return t, nil
}

// DriverStatusChanged keeps presence in step with a committed profile change
// and tells the dashboards.
func (g *Gateway) DriverStatusChanged(driverID, status string) {
	g.registry.SetDriverStatus(driverID, status)
	g.NotifyDashboards(events.DriverStatusChanged, StatusChange{DriverID: driverID, Status: status})
}

// NotifyDriver sends event to every connection of driverID. Offline drivers
// miss it; they resync on reconnect.
func (g *Gateway) NotifyDriver(driverID, event string, payload any) {
	for _, c := range g.matching(func(c *client) bool {
		return c.who.Role == presence.RoleDriver && c.who.DriverID == driverID
	}) {
		g.send(c, event, payload)
	}
}

// NotifyDashboards sends event to every dashboard connection.
func (g *Gateway) NotifyDashboards(event string, payload any) {
	for _, c := range g.matching(func(c *client) bool { return c.who.Role == presence.RoleDashboard }) {
		g.send(c, event, payload)
	}
}

func (g *Gateway) send(c *client, event string, payload any) {
	if err := c.conn.writeJSON(envelope[any]{Type: event, Data: payload}); err != nil {
		g.log.Debugf("write %s to %s: %v", event, c.id, err)
		return
	}
	g.metrics.MessageSent(event)
}

func (g *Gateway) matching(keep func(*client) bool) []*client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*client
	for _, c := range g.clients {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) track(c *client) {
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()
}

func (g *Gateway) allLocations() []DriverLocation {
	sessions := g.registry.AllDriverLocations()
	out := make([]DriverLocation, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, DriverLocation{
			DriverID: s.Identity.DriverID,
			Name:     s.Identity.Name,
			Status:   s.Status,
			Location: *s.Location,
		})
	}
	return out
}
