package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dispatch/pkg/apperr"
)

func TestErrorMapsKindAndHidesInternals(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, apperr.Conflictf("order is completed"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"order is completed"}`, w.Body.String())

	w = httptest.NewRecorder()
	Error(w, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	var v struct{ Name string }
	err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")), &v)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))

	require.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"Name":"x"}`)), &v))
	assert.Equal(t, "x", v.Name)
}

func TestDecodeOptionalAcceptsEmptyBodyOnly(t *testing.T) {
	var v struct{ Reason string }
	require.NoError(t, DecodeOptional(httptest.NewRequest(http.MethodPatch, "/", nil), &v))
	assert.Empty(t, v.Reason)

	require.NoError(t, DecodeOptional(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"Reason":"duplicate"}`)), &v))
	assert.Equal(t, "duplicate", v.Reason)

	err := DecodeOptional(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"Reason":`)), &v)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
	err = DecodeOptional(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`not json`)), &v)
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}

func TestIDValidation(t *testing.T) {
	id, err := ID("id", "9b2f6c1e-4a7d-4f0e-8c3a-1d2e3f4a5b6c")
	require.NoError(t, err)
	assert.Equal(t, "9b2f6c1e-4a7d-4f0e-8c3a-1d2e3f4a5b6c", id)

	for _, bad := range []string{"", "abc", "9b2f6c1e4a7d4f0e8c3a1d2e3f4a5b6c", "{9b2f6c1e-4a7d-4f0e-8c3a-1d2e3f4a5b6c}", "9b2f6c1e-4a7d-4f0e-8c3a-1d2e3f4a5bzz"} {
		_, err := ID("driver_id", bad)
		assert.Equal(t, apperr.BadRequest, apperr.KindOf(err), bad)
	}
	assert.Equal(t, "invalid driver_id", apperr.Message(mustErr(ID("driver_id", "x"))))

	got, err := OptionalID("driver_id", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPathID(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := PathID(r, "id")
		if err != nil {
			Error(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]string{"id": id})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid id"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/9b2f6c1e-4a7d-4f0e-8c3a-1d2e3f4a5b6c", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func mustErr(_ string, err error) error { return err }

func TestParseTime(t *testing.T) {
	got, err := ParseTime("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseTime("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = ParseTime("yesterday")
	assert.Equal(t, apperr.BadRequest, apperr.KindOf(err))
}
