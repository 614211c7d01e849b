package live

import (
	"net/http"

	"github.com/bissquit/cutover-garden/internal/escalation"
	"github.com/bissquit/cutover-garden/internal/incidents"
	"github.com/bissquit/cutover-garden/internal/pkg/httputil"
	"github.com/bissquit/cutover-garden/internal/runbook"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: runbook.ErrNotFound, Status: http.StatusNotFound},
	{Error: incidents.ErrNotFound, Status: http.StatusNotFound},
	{Error: escalation.ErrNotFound, Status: http.StatusNotFound},
	{Error: escalation.ErrLockNotAcquired, Status: http.StatusServiceUnavailable},
}

// Handler handles HTTP requests for live execution status.
type Handler struct {
	service *Service
}

// NewHandler creates a new live status handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers live status routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans/{id}/live", h.GetLiveStatus)
}

// GetLiveStatus handles GET /plans/{id}/live.
func (h *Handler) GetLiveStatus(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	status, err := h.service.GetLiveStatus(r.Context(), planID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, status)
}
