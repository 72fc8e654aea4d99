package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/presence"
	"fleet-dispatch/internal/trips"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
)

type fixture struct {
	gw       *Gateway
	registry *presence.Registry
	drivers  *drivers.Service
	trips    *trips.Service
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test interpose on the gateway's driver store.
func newFixtureWith(t *testing.T, wrap func(DriverStore) DriverStore) *fixture {
	t.Helper()
	require.NoError(t, jwt.Init("tracking-test", time.Hour))
	tx := db.NewMemTx()
	accounts := users.NewService(users.NewMemoryRepository(), logger.NopLogger{})
	ds := drivers.NewService(drivers.NewMemoryRepository(), accounts, tx, drivers.NewMemoryIndex(), 20, logger.NopLogger{})
	ts := trips.NewService(trips.NewMemoryRepository(), ds, tx, trips.NewMemoryCache(), events.Nop{}, logger.NopLogger{})
	reg := presence.NewRegistry()
	var store DriverStore = ds
	if wrap != nil {
		store = wrap(ds)
	}
	gw := NewGateway(reg, store, ts, nil, logger.NopLogger{})
	ds.SetStatusListener(gw)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &fixture{gw: gw, registry: reg, drivers: ds, trips: ts, srv: srv}
}

func (f *fixture) url(token string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=" + token
}

func (f *fixture) driver(t *testing.T, email string) (*drivers.Driver, string) {
	t.Helper()
	resp, err := f.drivers.Register(context.Background(), drivers.RegisterRequest{
		Name: "Driver", Email: email, Password: "secret1",
	})
	require.NoError(t, err)
	return resp.Driver, resp.Token
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) dashboard(t *testing.T) *websocket.Conn {
	t.Helper()
	token, err := jwt.Generate(jwt.Claims{UserID: "staff-1", Name: "Desk", Role: users.RoleDispatcher})
	require.NoError(t, err)
	conn := f.dial(t, token)
	readEvent(t, conn, events.AllDriverLocations)
	return conn
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// readEvent reads frames until one named event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Type == event {
			return f.Data
		}
	}
}

func sendLocation(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"locationUpdate","data":`+data+`}`)))
}

func TestRejectsMissingOrInvalidToken(t *testing.T) {
	f := newFixture(t)
	for _, token := range []string{"", "not-a-jwt"} {
		_, resp, err := websocket.DefaultDialer.Dial(f.url(token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Zero(t, f.registry.Len())
}

func TestDashboardGetsSnapshotOnConnectAndRequest(t *testing.T) {
	f := newFixture(t)
	token, err := jwt.Generate(jwt.Claims{UserID: "admin-1", Role: users.RoleAdmin})
	require.NoError(t, err)
	conn := f.dial(t, token)

	var snap []DriverLocation
	require.NoError(t, json.Unmarshal(readEvent(t, conn, events.AllDriverLocations), &snap))
	assert.Empty(t, snap)

	f.registry.Register("other", presence.Identity{DriverID: "d9", Name: "Zé", Role: presence.RoleDriver}, presence.StatusOnlineFree)
	f.registry.UpdateLocation("other", geo.Sample{Lat: 1, Lng: 2}, "")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "requestAllLocations"}))
	require.NoError(t, json.Unmarshal(readEvent(t, conn, events.AllDriverLocations), &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, "d9", snap[0].DriverID)
	assert.Equal(t, 2.0, snap[0].Location.Lng)
}

func TestDriverLifecycleOverWebsocket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dash := f.dashboard(t)
	d, token := f.driver(t, "a@fleet.io")

	conn := f.dial(t, token)
	var change StatusChange
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverStatusChanged), &change))
	assert.Equal(t, StatusChange{DriverID: d.ID, Status: drivers.StatusOnlineFree}, change)

	got, err := f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, drivers.StatusOnlineFree, got.Status)

	// Non-numeric coordinates are dropped without closing the connection.
	sendLocation(t, conn, `{"lat":"north","lng":1}`)
	sendLocation(t, conn, `{"lng":1}`)
	sendLocation(t, conn, `{"lat":-23.55,"lng":-46.63,"speed":30}`)

	var b LocationBroadcast
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverLocationBroadcast), &b))
	assert.Equal(t, d.ID, b.DriverID)
	assert.Equal(t, -23.55, b.Location.Lat)
	assert.Empty(t, b.TripID)

	snap := f.registry.SnapshotOnlineFreeDrivers()
	require.Len(t, snap, 1)
	assert.Equal(t, d.ID, snap[0].DriverID)

	got, err = f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLocation)
	assert.Equal(t, -46.63, got.LastLocation.Lng)

	require.NoError(t, conn.Close())
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverStatusChanged), &change))
	assert.Equal(t, drivers.StatusOffline, change.Status)
	var gone Disconnected
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverDisconnected), &gone))
	assert.Equal(t, d.ID, gone.DriverID)

	got, err = f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, drivers.StatusOffline, got.Status)
	assert.False(t, f.registry.DriverConnected(d.ID))
}

func TestDisconnectKeepsBusyDriverWithTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dash := f.dashboard(t)
	d, token := f.driver(t, "a@fleet.io")
	_, err := f.trips.StartTrip(ctx, trips.StartRequest{DriverID: d.ID, Type: trips.TypePickup})
	require.NoError(t, err)

	conn := f.dial(t, token)
	var change StatusChange
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverStatusChanged), &change))
	assert.Equal(t, drivers.StatusOnlineBusy, change.Status)

	sendLocation(t, conn, `{"lat":0,"lng":0}`)
	var b LocationBroadcast
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverLocationBroadcast), &b))
	assert.NotEmpty(t, b.TripID)

	require.NoError(t, conn.Close())
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverStatusChanged), &change))
	assert.Equal(t, drivers.StatusOnlineBusy, change.Status)
	readEvent(t, dash, events.DriverDisconnected)

	got, err := f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, drivers.StatusOnlineBusy, got.Status)
}

func TestSecondSessionKeepsDriverOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, token := f.driver(t, "a@fleet.io")

	first := f.dial(t, token)
	second := f.dial(t, token)
	require.Eventually(t, func() bool { return f.registry.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return f.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	got, err := f.drivers.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, drivers.StatusOnlineFree, got.Status)

	f.gw.NotifyDriver(d.ID, events.NewDeliveryAssigned, map[string]string{"order_id": "o1"})
	var body map[string]string
	require.NoError(t, json.Unmarshal(readEvent(t, second, events.NewDeliveryAssigned), &body))
	assert.Equal(t, "o1", body["order_id"])
}

// hookedStore runs onGet once, the first time Get is called after arming.
type hookedStore struct {
	DriverStore
	armed atomic.Bool
	onGet func()
}

func (h *hookedStore) Get(ctx context.Context, id string) (*drivers.Driver, error) {
	if h.armed.CompareAndSwap(true, false) {
		h.onGet()
	}
	return h.DriverStore.Get(ctx, id)
}

func TestReconnectDuringDisconnectStaysOnline(t *testing.T) {
	var store *hookedStore
	f := newFixtureWith(t, func(ds DriverStore) DriverStore {
		store = &hookedStore{DriverStore: ds}
		return store
	})
	ctx := context.Background()
	d, token := f.driver(t, "a@fleet.io")

	redialed := make(chan *websocket.Conn, 1)
	store.onGet = func() {
		// The new session dials while the old one is tearing down.
		go func() {
			conn, _, err := websocket.DefaultDialer.Dial(f.url(token), nil)
			if err != nil {
				close(redialed)
				return
			}
			redialed <- conn
		}()
		time.Sleep(100 * time.Millisecond)
	}

	dash := f.dashboard(t)
	first := f.dial(t, token)
	readEvent(t, dash, events.DriverStatusChanged)
	store.armed.Store(true)
	require.NoError(t, first.Close())

	second, ok := <-redialed
	require.True(t, ok, "second dial failed")
	t.Cleanup(func() { second.Close() })

	// The old session has finished tearing down; only the new one remains.
	var gone Disconnected
	require.NoError(t, json.Unmarshal(readEvent(t, dash, events.DriverDisconnected), &gone))
	assert.Equal(t, d.ID, gone.DriverID)
	sendLocation(t, second, `{"lat":-23.55,"lng":-46.63}`)

	require.Eventually(t, func() bool {
		got, err := f.drivers.Get(ctx, d.ID)
		if err != nil || got.Status != drivers.StatusOnlineFree {
			return false
		}
		snap := f.registry.SnapshotOnlineFreeDrivers()
		return len(snap) == 1 && snap[0].DriverID == d.ID
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, f.registry.DriverConnected(d.ID))
	assert.Equal(t, 2, f.registry.Len())
}

func TestDriverLocksAreReleased(t *testing.T) {
	var l driverLocks
	unlock := l.lock("d1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.lock("d1")()
	}()
	select {
	case <-done:
		t.Fatal("second holder entered while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-done
	assert.Empty(t, l.held)
}

func TestReportPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, _ := f.driver(t, "a@fleet.io")

	_, err := f.gw.ReportPosition(ctx, d.ID, geo.Sample{Lat: 91, Lng: 0})
	assert.Error(t, err)

	tr, err := f.gw.ReportPosition(ctx, d.ID, geo.Sample{Lat: 1, Lng: 1})
	require.NoError(t, err)
	assert.Nil(t, tr)

	started, err := f.trips.StartTrip(ctx, trips.StartRequest{DriverID: d.ID, Type: trips.TypeOther})
	require.NoError(t, err)
	tr, err = f.gw.ReportPosition(ctx, d.ID, geo.Sample{Lat: 1, Lng: 1.01})
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, started.ID, tr.ID)
	assert.Equal(t, 1, tr.PositionCount)
}
