package drivers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/httpx"
	"fleet-dispatch/pkg/jwt"
)

// Handler exposes driver HTTP endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the driver service.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router with all driver routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Public
	r.Post("/login", h.Login)

	// Admin only
	r.Group(func(r chi.Router) {
		r.Use(jwt.RequireRole(users.RoleAdmin))
		r.Post("/register", h.Register)
		r.Patch("/{id}/commission", h.UpdateCommission)
	})

	// Staff, or the driver reading its own profile
	r.Group(func(r chi.Router) {
		r.Use(jwt.RequireAuth)
		r.With(jwt.RequireRole(users.RoleAdmin, users.RoleDispatcher)).Get("/", h.List)
		r.With(jwt.RequireRole(users.RoleAdmin, users.RoleDispatcher)).Get("/nearby", h.GetNearby) // must come before /{id}
		r.Get("/{id}", h.GetByID)
	})

	return r
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	resp, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	resp, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), Filter{Status: r.URL.Query().Get("status")})
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drivers": list})
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if c := jwt.GetClaims(r.Context()); c.Role == users.RoleDriver && c.DriverID != id {
		httpx.Error(w, apperr.Forbiddenf("drivers can only view their own profile"))
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) UpdateCommission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req CommissionUpdate
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	d, err := h.svc.UpdateCommission(r.Context(), id, req.Rate)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) GetNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		httpx.Error(w, apperr.BadRequestf("lat and lng are required"))
		return
	}
	radius := 5.0
	if v := q.Get("radius"); v != "" {
		radius, _ = strconv.ParseFloat(v, 64)
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := h.svc.Nearby(r.Context(), lat, lng, radius, limit)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drivers": list})
}
