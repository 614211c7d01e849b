package incidents

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotFound, Status: http.StatusNotFound},
	{Error: domain.ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrAlreadyResolved, Status: http.StatusConflict},
	{Error: ErrIncidentClosed, Status: http.StatusConflict},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest},
	{Error: ErrInvalidInput, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans/{id}/incidents", h.List)
	r.Post("/plans/{id}/incidents", h.Create)
	r.Get("/plans/{id}/breaches", h.GetBreaches)
	r.Get("/plans/{id}/sla-targets", h.ListSLATargets)
	r.Put("/plans/{id}/sla-targets/{severity}", h.SetSLATarget)
	r.Delete("/plans/{id}/sla-targets/{severity}", h.DeleteSLATarget)

	r.Get("/incidents/{id}", h.Get)
	r.Post("/incidents/{id}/transitions", h.Transition)
	r.Post("/incidents/{id}/first-response", h.AddFirstResponse)
	r.Post("/incidents/{id}/resolve", h.Resolve)
	r.Get("/incidents/{id}/comments", h.ListComments)
	r.Post("/incidents/{id}/comments", h.AddComment)
}

// CreateRequest represents the request body for raising an incident.
type CreateRequest struct {
	Title       string  `json:"title" validate:"required,min=1,max=500"`
	Description string  `json:"description"`
	Severity    string  `json:"severity" validate:"required,oneof=P1 P2 P3 P4"`
	WorkItemID  *string `json:"work_item_id" validate:"omitempty,uuid"`
}

// TransitionRequest represents the request body for an incident transition.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=open investigating resolved closed"`
}

// ResolveRequest represents the request body for resolving an incident.
type ResolveRequest struct {
	Resolution string `json:"resolution" validate:"required,min=1"`
}

// CommentRequest represents the request body for adding a comment.
type CommentRequest struct {
	Body string `json:"body" validate:"required,min=1"`
}

// SLATargetRequest represents the request body for overriding an SLA target.
type SLATargetRequest struct {
	ResponseMinutes   int `json:"response_minutes" validate:"required,gt=0"`
	ResolutionMinutes int `json:"resolution_minutes" validate:"required,gt=0,gtefield=ResponseMinutes"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, errorMappings)
}

// Create handles POST /plans/{id}/incidents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.service.Create(r.Context(), CreateInput{
		PlanID:      planID,
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.Severity(req.Severity),
		WorkItemID:  req.WorkItemID,
	}, httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// List handles GET /plans/{id}/incidents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	filter := Filter{PlanID: planID}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.Severity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
			return
		}
		filter.Severity = &severity
	}
	filter.ActiveOnly = q.Get("active") == "true"

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// GetBreaches handles GET /plans/{id}/breaches.
func (h *Handler) GetBreaches(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	breached, err := h.service.GetBreaches(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, breached)
}

// Get handles GET /incidents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Transition handles POST /incidents/{id}/transitions.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.service.Transition(r.Context(), id,
		domain.IncidentStatus(req.Status), httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// AddFirstResponse handles POST /incidents/{id}/first-response.
func (h *Handler) AddFirstResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	incident, err := h.service.AddFirstResponse(r.Context(), id, httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// Resolve handles POST /incidents/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	incident, err := h.service.Resolve(r.Context(), id, req.Resolution, httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListComments handles GET /incidents/{id}/comments.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	comments, err := h.service.ListComments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, comments)
}

// AddComment handles POST /incidents/{id}/comments.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CommentRequest
	if !h.decode(w, r, &req) {
		return
	}

	comment, err := h.service.AddComment(r.Context(), id, httputil.GetUserID(r.Context()), req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, comment)
}

// ListSLATargets handles GET /plans/{id}/sla-targets.
func (h *Handler) ListSLATargets(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	targets, err := h.service.ListSLATargets(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, targets)
}

// SetSLATarget handles PUT /plans/{id}/sla-targets/{severity}.
func (h *Handler) SetSLATarget(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req SLATargetRequest
	if !h.decode(w, r, &req) {
		return
	}

	severity := domain.Severity(chi.URLParam(r, "severity"))
	target, err := h.service.SetSLATarget(r.Context(), planID, severity, req.ResponseMinutes, req.ResolutionMinutes)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, target)
}

// DeleteSLATarget handles DELETE /plans/{id}/sla-targets/{severity}.
func (h *Handler) DeleteSLATarget(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	severity := domain.Severity(chi.URLParam(r, "severity"))
	if err := h.service.DeleteSLATarget(r.Context(), planID, severity); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoContent(w)
}
