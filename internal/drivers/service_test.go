package drivers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/db"
	"fleet-dispatch/pkg/jwt"
	"fleet-dispatch/pkg/logger"
)

type recordingListener struct {
	mu      sync.Mutex
	changes []string
}

func (l *recordingListener) DriverStatusChanged(driverID, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, driverID+":"+status)
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	index *MemoryIndex
	tx    *db.MemTx
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, jwt.Init("drivers-test", time.Hour))
	repo := NewMemoryRepository()
	index := NewMemoryIndex()
	tx := db.NewMemTx()
	accounts := users.NewService(users.NewMemoryRepository(), logger.NopLogger{})
	return &fixture{
		svc:   NewService(repo, accounts, tx, index, 20, logger.NopLogger{}),
		repo:  repo,
		index: index,
		tx:    tx,
	}
}

func (f *fixture) register(t *testing.T, email string) *Driver {
	t.Helper()
	resp, err := f.svc.Register(context.Background(), RegisterRequest{
		Name: "Driver " + email, Email: email, Password: "secret1", VehiclePlate: "abc1d23",
	})
	require.NoError(t, err)
	return resp.Driver
}

func TestRegisterCreatesAccountAndProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, RegisterRequest{
		Name: "Ana", Email: "ana@fleet.io", Password: "secret1", VehiclePlate: "abc1d23",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, resp.Driver.Status)
	assert.Equal(t, 20.0, resp.Driver.CommissionRate)
	assert.Equal(t, "ABC1D23", resp.Driver.VehiclePlate)

	claims, err := jwt.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Driver.ID, claims.DriverID)
	assert.Equal(t, users.RoleDriver, claims.Role)

	login, err := f.svc.Login(ctx, LoginRequest{Email: "ana@fleet.io", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, resp.Driver.ID, login.Driver.ID)
}

func TestRegisterDuplicateEmailLeavesNoProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ana@fleet.io")

	_, err := f.svc.Register(ctx, RegisterRequest{Name: "Ana 2", Email: "ana@fleet.io", Password: "secret1"})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	list, err := f.svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegisterRejectsBadCommission(t *testing.T) {
	f := newFixture(t)
	rate := 120.0
	_, err := f.svc.Register(context.Background(), RegisterRequest{
		Name: "Ana", Email: "ana@fleet.io", Password: "secret1", CommissionRate: &rate,
	})
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func TestSetStatusNotifiesAfterCommitAndSyncsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.register(t, "ana@fleet.io")
	l := &recordingListener{}
	f.svc.SetStatusListener(l)

	require.NoError(t, f.svc.UpdateLocation(ctx, d.ID, geo.Sample{Lat: -23.55, Lng: -46.63}))
	require.NoError(t, f.svc.SetStatus(ctx, d.ID, StatusOnlineFree))
	assert.Equal(t, []string{d.ID + ":" + StatusOnlineFree}, l.changes)

	near, err := f.svc.Nearby(ctx, -23.55, -46.63, 1, 0)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, d.ID, near[0].DriverID)

	// A rolled back unit of work must not notify.
	_ = f.tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, f.svc.SetStatus(ctx, d.ID, StatusOnlineBusy))
		return apperr.Conflictf("abort")
	})
	assert.Len(t, l.changes, 1)

	require.NoError(t, f.svc.SetStatus(ctx, d.ID, StatusOnlineBusy))
	near, err = f.svc.Nearby(ctx, -23.55, -46.63, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, near)
}

func TestSetStatusUnknownDriver(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SetStatus(context.Background(), "missing", StatusOffline)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	err = f.svc.SetStatus(context.Background(), "missing", "parked")
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func TestMemoryIndexOrdersByDistance(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.SetDriverLocation(ctx, "far", 0, 0.05))
	require.NoError(t, idx.SetDriverLocation(ctx, "near", 0, 0.01))
	require.NoError(t, idx.SetDriverLocation(ctx, "out", 0, 1))

	got, err := idx.NearbyDrivers(ctx, 0, 0, 10, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].DriverID)
	assert.Equal(t, "far", got[1].DriverID)
}

func TestGetByIDDriverSeesOnlyOwnProfile(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "a@fleet.io")
	b := f.register(t, "b@fleet.io")

	r := chi.NewRouter()
	r.Use(jwt.OptionalAuth)
	r.Mount("/drivers", NewHandler(f.svc).Routes())

	token, err := jwt.Generate(jwt.Claims{UserID: a.UserID, Role: users.RoleDriver, DriverID: a.ID})
	require.NoError(t, err)

	for id, want := range map[string]int{a.ID: http.StatusOK, b.ID: http.StatusForbidden, "not-a-uuid": http.StatusBadRequest} {
		req := httptest.NewRequest(http.MethodGet, "/drivers/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, id)
	}

	req := httptest.NewRequest(http.MethodGet, "/drivers/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
