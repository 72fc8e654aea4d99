package trips

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fleet-dispatch/internal/geo"
	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/httpx"
	"fleet-dispatch/pkg/jwt"
)

// PositionReporter is the single position entry point shared with the
// realtime gateway and the telematics ingest.
type PositionReporter interface {
	ReportPosition(ctx context.Context, driverID string, s geo.Sample) (*Trip, error)
}

// Handler exposes trip HTTP endpoints.
type Handler struct {
	svc      *Service
	reporter PositionReporter
}

// NewHandler wires a handler to the trip service.
func NewHandler(svc *Service, reporter PositionReporter) *Handler {
	return &Handler{svc: svc, reporter: reporter}
}

// Routes returns a chi.Router with all trip routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth) // all trip endpoints need auth

	r.Post("/start", h.Start)
	r.With(jwt.RequireRole(users.RoleDriver)).Post("/position", h.Position)
	r.Post("/end", h.End)
	r.Get("/current", h.Current)
	r.Get("/", h.History)
	r.With(jwt.RequireRole(users.RoleAdmin, users.RoleDispatcher)).Get("/stats", h.Stats)
	r.Get("/{id}", h.GetByID)
	r.Get("/{id}/live", h.Live)
	r.With(jwt.RequireRole(users.RoleAdmin)).Patch("/{id}/cancel", h.Cancel)

	return r
}

// driverScope resolves which driver a request acts on. Drivers always act on
// themselves; staff name the driver explicitly.
func driverScope(r *http.Request, requested string) (string, error) {
	c := jwt.GetClaims(r.Context())
	if c.Role == users.RoleDriver {
		if requested != "" && requested != c.DriverID {
			return "", apperr.Forbiddenf("drivers can only act on their own trips")
		}
		return c.DriverID, nil
	}
	if requested == "" {
		return "", apperr.BadRequestf("driver_id is required")
	}
	return httpx.ID("driver_id", requested)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	id, err := driverScope(r, req.DriverID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	req.DriverID = id
	t, err := h.svc.StartTrip(r.Context(), req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
	var f geo.Fix
	if err := httpx.Decode(r, &f); err != nil {
		httpx.Error(w, err)
		return
	}
	s, ok := f.Sample()
	if !ok {
		httpx.Error(w, apperr.BadRequestf("lat and lng are required"))
		return
	}
	t, err := h.reporter.ReportPosition(r.Context(), jwt.GetClaims(r.Context()).DriverID, s)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trip": t})
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	var req EndRequest
	if err := httpx.DecodeOptional(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	id, err := driverScope(r, req.DriverID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	t, err := h.svc.EndTrip(r.Context(), id, req.Notes)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trip": t})
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	id, err := driverScope(r, r.URL.Query().Get("driver_id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	t, err := h.svc.Current(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trip": t})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{Type: q.Get("type"), Status: q.Get("status")}
	var err error
	if c := jwt.GetClaims(r.Context()); c.Role == users.RoleDriver {
		f.DriverID = c.DriverID
	} else if f.DriverID, err = httpx.OptionalID("driver_id", q.Get("driver_id")); err != nil {
		httpx.Error(w, err)
		return
	}
	if f.From, err = httpx.ParseTime(q.Get("from")); err != nil {
		httpx.Error(w, err)
		return
	}
	if f.To, err = httpx.ParseTime(q.Get("to")); err != nil {
		httpx.Error(w, err)
		return
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	list, err := h.svc.History(r.Context(), f)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trips": list})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := httpx.ParseTime(q.Get("from"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	to, err := httpx.ParseTime(q.Get("to"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -30)
	if from != nil {
		start = *from
	}
	stats, err := h.svc.Stats(r.Context(), start, end)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"from": start, "to": end, "by_type": stats})
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if !canView(r, t.DriverID) {
		httpx.Error(w, apperr.Forbiddenf("trip belongs to another driver"))
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	l, err := h.svc.Live(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if !canView(r, l.DriverID) {
		httpx.Error(w, apperr.Forbiddenf("trip belongs to another driver"))
		return
	}
	httpx.JSON(w, http.StatusOK, l)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req CancelRequest
	if err := httpx.DecodeOptional(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	t, err := h.svc.CancelTrip(r.Context(), id, req.Reason)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func canView(r *http.Request, driverID string) bool {
	c := jwt.GetClaims(r.Context())
	return c.Role != users.RoleDriver || c.DriverID == driverID
}
