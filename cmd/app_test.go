package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dispatch/internal/config"
	"fleet-dispatch/internal/drivers"
	"fleet-dispatch/internal/orders"
	"fleet-dispatch/internal/trips"
	"fleet-dispatch/internal/users"
)

func newTestServer(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "cmd-test"}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(a.router())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return a, srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestHealthMetricsAndAuth(t *testing.T) {
	_, srv := newTestServer(t)

	code, body := call(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"ok"`)

	code, _ = call(t, srv, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = call(t, srv, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(body), "http_request_duration_seconds"))
}

// staffAndDriver seeds an admin and registers one driver through the API.
func staffAndDriver(t *testing.T, a *app, srv *httptest.Server) (admin, driverID, driverToken string) {
	t.Helper()
	_, err := a.users.Register(context.Background(), users.RegisterRequest{
		Name: "Ada Admin", Email: "admin@example.com", Password: "secret1", Role: users.RoleAdmin,
	})
	require.NoError(t, err)

	code, body := call(t, srv, http.MethodPost, "/users/login", "", users.LoginRequest{Email: "admin@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, code, string(body))
	var login users.AuthResponse
	require.NoError(t, json.Unmarshal(body, &login))

	code, body = call(t, srv, http.MethodPost, "/drivers/register", login.Token, drivers.RegisterRequest{
		Name: "Dan Driver", Email: "dan@example.com", Password: "secret1", VehiclePlate: "ABC-1234",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var reg drivers.AuthResponse
	require.NoError(t, json.Unmarshal(body, &reg))
	require.NotNil(t, reg.Driver)
	return login.Token, reg.Driver.ID, reg.Token
}

func TestDeliveryLifecycleOverHTTP(t *testing.T) {
	a, srv := newTestServer(t)
	admin, driverID, driverToken := staffAndDriver(t, a, srv)

	code, body := call(t, srv, http.MethodPost, "/orders", admin, orders.CreateRequest{
		ServiceType: "parcel", Price: 1000, CustomerName: "Carla", Address: "1 Main St",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var o orders.Order
	require.NoError(t, json.Unmarshal(body, &o))
	assert.Equal(t, orders.StatusPending, o.Status)
	require.NotEmpty(t, o.VerificationCode)
	verification := o.VerificationCode

	code, body = call(t, srv, http.MethodPatch, "/orders/"+o.ID+"/assign", admin, orders.AssignRequest{DriverID: driverID})
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = call(t, srv, http.MethodPatch, "/orders/"+o.ID+"/start", driverToken, nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var started orders.Order
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, orders.StatusInProgress, started.Status)
	assert.Empty(t, started.VerificationCode)

	code, _ = call(t, srv, http.MethodPatch, "/orders/"+o.ID+"/complete", driverToken, orders.CompleteRequest{Code: "WRONG"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = call(t, srv, http.MethodPatch, "/orders/"+o.ID+"/complete", driverToken, orders.CompleteRequest{Code: verification})
	require.Equal(t, http.StatusOK, code, string(body))
	var done orders.Order
	require.NoError(t, json.Unmarshal(body, &done))
	assert.Equal(t, orders.StatusCompleted, done.Status)
	assert.Equal(t, int64(200), done.ValorMotorista)
	assert.Equal(t, int64(800), done.ValorEmpresa)

	code, _ = call(t, srv, http.MethodDelete, "/admin/retention?days=30", admin, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPositionWithoutCoordinatesIsRejected(t *testing.T) {
	a, srv := newTestServer(t)
	_, _, driverToken := staffAndDriver(t, a, srv)

	code, body := call(t, srv, http.MethodPost, "/trips/start", driverToken, trips.StartRequest{Type: trips.TypePickup})
	require.Equal(t, http.StatusCreated, code, string(body))
	var trip trips.Trip
	require.NoError(t, json.Unmarshal(body, &trip))

	for _, in := range []any{map[string]any{}, map[string]any{"speed": 12}, map[string]any{"lat": -23.55}} {
		code, body = call(t, srv, http.MethodPost, "/trips/position", driverToken, in)
		assert.Equal(t, http.StatusBadRequest, code, string(body))
	}

	code, body = call(t, srv, http.MethodGet, "/trips/"+trip.ID, driverToken, nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var got trips.Trip
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Zero(t, got.PositionCount)
	assert.Empty(t, got.Positions)

	code, body = call(t, srv, http.MethodPost, "/trips/position", driverToken, map[string]any{"lat": 0, "lng": 0})
	require.Equal(t, http.StatusOK, code, string(body))
	code, body = call(t, srv, http.MethodGet, "/trips/"+trip.ID, driverToken, nil)
	require.Equal(t, http.StatusOK, code, string(body))
	got = trips.Trip{}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1, got.PositionCount)
}

func TestMalformedInputIsBadRequest(t *testing.T) {
	a, srv := newTestServer(t)
	admin, driverID, driverToken := staffAndDriver(t, a, srv)

	for _, path := range []string{"/orders/abc", "/trips/abc", "/trips/abc/live", "/drivers/abc", "/users/abc", "/orders?driver_id=abc", "/trips?driver_id=abc", "/trips/current?driver_id=abc"} {
		code, body := call(t, srv, http.MethodGet, path, admin, nil)
		assert.Equal(t, http.StatusBadRequest, code, "%s: %s", path, body)
	}

	code, body := call(t, srv, http.MethodPost, "/orders", admin, orders.CreateRequest{
		ServiceType: "parcel", Price: 500, CustomerName: "Eve", Address: "2 Side St",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var o orders.Order
	require.NoError(t, json.Unmarshal(body, &o))

	code, _ = call(t, srv, http.MethodPatch, "/orders/"+o.ID+"/assign", admin, orders.AssignRequest{DriverID: "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = call(t, srv, http.MethodPatch, "/orders/abc/assign", admin, orders.AssignRequest{DriverID: driverID})
	assert.Equal(t, http.StatusBadRequest, code)

	// A body that is present must parse, even where the body is optional.
	code, _ = callRaw(t, srv, http.MethodPatch, "/orders/"+o.ID+"/cancel", admin, `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = callRaw(t, srv, http.MethodPatch, "/orders/"+o.ID+"/assign", admin, `driver`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = callRaw(t, srv, http.MethodPost, "/trips/end", driverToken, `{`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = call(t, srv, http.MethodPatch, "/orders/"+o.ID+"/cancel", admin, nil)
	require.Equal(t, http.StatusOK, code, string(body))

	// Drivers get the shared error shape when reading another order.
	code, body = call(t, srv, http.MethodGet, "/orders/"+o.ID, driverToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.JSONEq(t, `{"error":"order is not assigned to you"}`, string(body))
}

func callRaw(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}
