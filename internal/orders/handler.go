package orders

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/httpx"
	"fleet-dispatch/pkg/jwt"
)

// Handler exposes order HTTP endpoints.
type Handler struct{ svc *Service }

// NewHandler wires a handler to the dispatch engine.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Routes returns a chi.Router with all order routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth)

	staff := jwt.RequireRole(users.RoleAdmin, users.RoleDispatcher)
	driver := jwt.RequireRole(users.RoleDriver)

	r.With(staff).Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.With(staff).Patch("/{id}/assign", h.Assign)
	r.With(driver).Patch("/{id}/start", h.Start)
	r.With(driver).Patch("/{id}/complete", h.Complete)
	r.With(jwt.RequireRole(users.RoleAdmin)).Patch("/{id}/cancel", h.Cancel)

	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	o, err := h.svc.Create(r.Context(), jwt.GetClaims(r.Context()).UserID, req)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{Status: q.Get("status")}
	c := jwt.GetClaims(r.Context())
	var err error
	if c.Role == users.RoleDriver {
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

	list, err := h.svc.List(r.Context(), f)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if c.Role == users.RoleDriver {
		for i := range list {
			list[i].VerificationCode = ""
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	o, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if c := jwt.GetClaims(r.Context()); c.Role == users.RoleDriver {
		if !o.AssignedTo(c.DriverID) {
			httpx.Error(w, apperr.Forbiddenf("order is not assigned to you"))
			return
		}
		o.VerificationCode = ""
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req AssignRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.DriverID == "" {
		httpx.Error(w, apperr.BadRequestf("driver_id is required"))
		return
	}
	if _, err := httpx.ID("driver_id", req.DriverID); err != nil {
		httpx.Error(w, err)
		return
	}
	o, err := h.svc.Assign(r.Context(), id, req.DriverID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	o, err := h.svc.StartDelivery(r.Context(), id, jwt.GetClaims(r.Context()).DriverID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	o.VerificationCode = ""
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req CompleteRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	o, err := h.svc.CompleteDelivery(r.Context(), id, jwt.GetClaims(r.Context()).DriverID, req.Code)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	o.VerificationCode = ""
	httpx.JSON(w, http.StatusOK, o)
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
	o, err := h.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}
