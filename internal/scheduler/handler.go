package scheduler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pantrywatch/pantrywatch/internal/pkg/httputil"
)

// Handler exposes the admin scheduler endpoints.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler creates a scheduler HTTP handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// RegisterRoutes registers admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/scheduler/status", h.GetStatus)
	r.Post("/scheduler/run", h.RunNow)
}

// GetStatus handles GET /scheduler/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.scheduler.Status())
}

// RunNow handles POST /scheduler/run: a manual out-of-schedule scan. The scan
// runs synchronously; daily dedup makes reruns safe.
func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	h.scheduler.RunScan(r.Context())
	httputil.Success(w, http.StatusOK, h.scheduler.Status())
}
