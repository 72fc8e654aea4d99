package retention

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleet-dispatch/internal/users"
	"fleet-dispatch/pkg/apperr"
	"fleet-dispatch/pkg/httpx"
	"fleet-dispatch/pkg/jwt"
)

// Handler exposes the sweep to administrators.
type Handler struct{ sweeper *Sweeper }

func NewHandler(s *Sweeper) *Handler { return &Handler{sweeper: s} }

// Routes returns a chi.Router for the /admin/retention mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(jwt.RequireAuth, jwt.RequireRole(users.RoleAdmin))
	r.Delete("/", h.Sweep)
	return r
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		httpx.Error(w, apperr.BadRequestf("days must be an integer"))
		return
	}
	res, err := h.sweeper.Sweep(r.Context(), days)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
