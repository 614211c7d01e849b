package runbook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotFound, Status: http.StatusNotFound},
	{Error: domain.ErrInvalidTransition, Status: http.StatusConflict},
	{Error: domain.ErrGuardFailed, Status: http.StatusUnprocessableEntity},
	{Error: ErrCycle, Status: http.StatusConflict},
	{Error: ErrDuplicateDependency, Status: http.StatusConflict},
	{Error: ErrSelfDependency, Status: http.StatusBadRequest},
	{Error: ErrInvalidDependencyType, Status: http.StatusBadRequest},
	{Error: ErrInvalidDecision, Status: http.StatusBadRequest},
	{Error: ErrInvalidInput, Status: http.StatusBadRequest},
	{Error: ErrPlanLive, Status: http.StatusConflict},
}

// Handler handles HTTP requests for the runbook module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new runbook handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers runbook routes (require auth).
// Plan subresources are registered as flat patterns so other modules can add
// their own /plans/{id}/... routes to the same router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.ListPlans)
	r.Post("/plans", h.CreatePlan)
	r.Get("/plans/{id}", h.GetPlan)
	r.Patch("/plans/{id}", h.UpdatePlan)
	r.Delete("/plans/{id}", h.DeletePlan)
	r.Post("/plans/{id}/transitions", h.TransitionPlan)

	r.Get("/plans/{id}/scopes", h.ListScopes)
	r.Post("/plans/{id}/scopes", h.CreateScope)
	r.Get("/plans/{id}/work-items", h.ListWorkItems)
	r.Post("/plans/{id}/work-items", h.CreateWorkItem)

	r.Get("/plans/{id}/dependencies", h.ListDependencies)
	r.Post("/plans/{id}/dependencies", h.AddDependency)
	r.Delete("/plans/{id}/dependencies/{dependencyID}", h.RemoveDependency)
	r.Post("/plans/{id}/critical-path", h.CalculateCriticalPath)

	r.Get("/plans/{id}/rehearsals", h.ListRehearsals)
	r.Post("/plans/{id}/rehearsals", h.CreateRehearsal)

	r.Get("/plans/{id}/go-no-go", h.ListGoNoGoItems)
	r.Post("/plans/{id}/go-no-go", h.CreateGoNoGoItem)
	r.Get("/plans/{id}/signoffs", h.ListSignoffs)
	r.Post("/plans/{id}/signoffs", h.CreateSignoff)

	r.Get("/work-items/{id}", h.GetWorkItem)
	r.Patch("/work-items/{id}", h.UpdateWorkItem)
	r.Delete("/work-items/{id}", h.DeleteWorkItem)
	r.Post("/work-items/{id}/transitions", h.TransitionWorkItem)

	r.Get("/rehearsals/{id}", h.GetRehearsal)
	r.Post("/rehearsals/{id}/transitions", h.TransitionRehearsal)
	r.Post("/go-no-go/{id}/decision", h.DecideGoNoGoItem)
	r.Post("/signoffs/{id}/decision", h.DecideSignoff)
}

// CreatePlanRequest represents the request body for creating a plan.
type CreatePlanRequest struct {
	Name             string     `json:"name" validate:"required,min=1,max=255"`
	Description      string     `json:"description"`
	PlannedStart     *time.Time `json:"planned_start"`
	PlannedEnd       *time.Time `json:"planned_end"`
	RollbackDeadline *time.Time `json:"rollback_deadline"`
	HypercareWeeks   int        `json:"hypercare_weeks" validate:"gte=0,lte=52"`
}

// UpdatePlanRequest represents the request body for updating a plan.
type UpdatePlanRequest struct {
	Name             *string    `json:"name" validate:"omitempty,min=1,max=255"`
	Description      *string    `json:"description"`
	PlannedStart     *time.Time `json:"planned_start"`
	PlannedEnd       *time.Time `json:"planned_end"`
	RollbackDeadline *time.Time `json:"rollback_deadline"`
	HypercareWeeks   *int       `json:"hypercare_weeks" validate:"omitempty,gte=1,lte=52"`
}

// TransitionRequest represents the request body of every transition endpoint.
type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// CreateScopeRequest represents the request body for creating a scope.
type CreateScopeRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Position int    `json:"position"`
}

// CreateWorkItemRequest represents the request body for creating a work item.
type CreateWorkItemRequest struct {
	ScopeID                string     `json:"scope_id" validate:"required,uuid"`
	Title                  string     `json:"title" validate:"required,min=1,max=500"`
	Owner                  string     `json:"owner"`
	PlannedStart           *time.Time `json:"planned_start"`
	PlannedEnd             *time.Time `json:"planned_end"`
	PlannedDurationMinutes int        `json:"planned_duration_minutes" validate:"gte=0"`
}

// UpdateWorkItemRequest represents the request body for updating a work item.
type UpdateWorkItemRequest struct {
	Title                  *string    `json:"title" validate:"omitempty,min=1,max=500"`
	Owner                  *string    `json:"owner"`
	PlannedStart           *time.Time `json:"planned_start"`
	PlannedEnd             *time.Time `json:"planned_end"`
	PlannedDurationMinutes *int       `json:"planned_duration_minutes" validate:"omitempty,gte=0"`
	IssueFlag              *string    `json:"issue_flag"`
}

// AddDependencyRequest represents the request body for adding a dependency.
type AddDependencyRequest struct {
	PredecessorID string `json:"predecessor_id" validate:"required,uuid"`
	SuccessorID   string `json:"successor_id" validate:"required,uuid"`
	Type          string `json:"type" validate:"omitempty,oneof=finish_to_start start_to_start finish_to_finish"`
	LagMinutes    int    `json:"lag_minutes"`
}

// CreateRehearsalRequest represents the request body for creating a rehearsal.
type CreateRehearsalRequest struct {
	Name                   string     `json:"name" validate:"max=255"`
	PlannedStart           *time.Time `json:"planned_start"`
	PlannedDurationMinutes int        `json:"planned_duration_minutes" validate:"gte=0"`
}

// CreateGoNoGoItemRequest represents the request body for a readiness item.
type CreateGoNoGoItemRequest struct {
	Title string `json:"title" validate:"required,min=1,max=500"`
	Owner string `json:"owner"`
}

// DecideGoNoGoRequest represents the request body for deciding a readiness item.
type DecideGoNoGoRequest struct {
	Decision string `json:"decision" validate:"required,oneof=pending go no_go"`
}

// CreateSignoffRequest represents the request body for requesting a sign-off.
type CreateSignoffRequest struct {
	Approver string `json:"approver" validate:"required,min=1,max=255"`
	Comment  string `json:"comment"`
}

// DecideSignoffRequest represents the request body for deciding a sign-off.
type DecideSignoffRequest struct {
	Status  string `json:"status" validate:"required,oneof=approved rejected"`
	Comment string `json:"comment"`
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
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

// CreatePlan handles POST /plans.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), CreatePlanInput{
		Name:             req.Name,
		Description:      req.Description,
		PlannedStart:     req.PlannedStart,
		PlannedEnd:       req.PlannedEnd,
		RollbackDeadline: req.RollbackDeadline,
		HypercareWeeks:   req.HypercareWeeks,
	}, httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, plan)
}

// ListPlans handles GET /plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	filter := PlanFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.PlanStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = &status
	}

	plans, err := h.service.ListPlans(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, plans)
}

// GetPlan handles GET /plans/{id}.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	plan, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, plan)
}

// UpdatePlan handles PATCH /plans/{id}.
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.service.UpdatePlan(r.Context(), id, UpdatePlanInput{
		Name:             req.Name,
		Description:      req.Description,
		PlannedStart:     req.PlannedStart,
		PlannedEnd:       req.PlannedEnd,
		RollbackDeadline: req.RollbackDeadline,
		HypercareWeeks:   req.HypercareWeeks,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, plan)
}

// DeletePlan handles DELETE /plans/{id}.
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeletePlan(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// TransitionPlan handles POST /plans/{id}/transitions.
func (h *Handler) TransitionPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.service.TransitionPlan(r.Context(), id, domain.PlanStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, plan)
}

// CreateScope handles POST /plans/{id}/scopes.
func (h *Handler) CreateScope(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateScopeRequest
	if !h.decode(w, r, &req) {
		return
	}

	scope, err := h.service.CreateScope(r.Context(), planID, req.Name, req.Position)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, scope)
}

// ListScopes handles GET /plans/{id}/scopes.
func (h *Handler) ListScopes(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	scopes, err := h.service.ListScopes(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, scopes)
}

// CreateWorkItem handles POST /plans/{id}/work-items.
func (h *Handler) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateWorkItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.CreateWorkItem(r.Context(), CreateWorkItemInput{
		PlanID:                 planID,
		ScopeID:                req.ScopeID,
		Title:                  req.Title,
		Owner:                  req.Owner,
		PlannedStart:           req.PlannedStart,
		PlannedEnd:             req.PlannedEnd,
		PlannedDurationMinutes: req.PlannedDurationMinutes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

// ListWorkItems handles GET /plans/{id}/work-items.
func (h *Handler) ListWorkItems(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	items, err := h.service.ListWorkItems(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// GetWorkItem handles GET /work-items/{id}.
func (h *Handler) GetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	item, err := h.service.GetWorkItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// UpdateWorkItem handles PATCH /work-items/{id}.
func (h *Handler) UpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateWorkItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.UpdateWorkItem(r.Context(), id, UpdateWorkItemInput{
		Title:                  req.Title,
		Owner:                  req.Owner,
		PlannedStart:           req.PlannedStart,
		PlannedEnd:             req.PlannedEnd,
		PlannedDurationMinutes: req.PlannedDurationMinutes,
		IssueFlag:              req.IssueFlag,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// DeleteWorkItem handles DELETE /work-items/{id}.
func (h *Handler) DeleteWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteWorkItem(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// TransitionWorkItem handles POST /work-items/{id}/transitions.
func (h *Handler) TransitionWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.TransitionWorkItem(r.Context(), id,
		domain.WorkItemStatus(req.Status), httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// AddDependency handles POST /plans/{id}/dependencies.
func (h *Handler) AddDependency(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req AddDependencyRequest
	if !h.decode(w, r, &req) {
		return
	}

	dep, err := h.service.AddDependency(r.Context(), AddDependencyInput{
		PlanID:        planID,
		PredecessorID: req.PredecessorID,
		SuccessorID:   req.SuccessorID,
		Type:          domain.DependencyType(req.Type),
		LagMinutes:    req.LagMinutes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, dep)
}

// ListDependencies handles GET /plans/{id}/dependencies.
func (h *Handler) ListDependencies(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	deps, err := h.service.ListDependencies(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, deps)
}

// RemoveDependency handles DELETE /plans/{id}/dependencies/{dependencyID}.
func (h *Handler) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	depID, ok := httputil.UUIDParam(w, r, "dependencyID")
	if !ok {
		return
	}

	if err := h.service.RemoveDependency(r.Context(), planID, depID); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// CalculateCriticalPath handles POST /plans/{id}/critical-path.
func (h *Handler) CalculateCriticalPath(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	path, err := h.service.CalculateCriticalPath(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, path)
}

// CreateRehearsal handles POST /plans/{id}/rehearsals.
func (h *Handler) CreateRehearsal(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateRehearsalRequest
	if !h.decode(w, r, &req) {
		return
	}

	rehearsal, err := h.service.CreateRehearsal(r.Context(), planID, CreateRehearsalInput{
		Name:                   req.Name,
		PlannedStart:           req.PlannedStart,
		PlannedDurationMinutes: req.PlannedDurationMinutes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, rehearsal)
}

// ListRehearsals handles GET /plans/{id}/rehearsals.
func (h *Handler) ListRehearsals(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	rehearsals, err := h.service.ListRehearsals(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rehearsals)
}

// GetRehearsal handles GET /rehearsals/{id}.
func (h *Handler) GetRehearsal(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	rehearsal, err := h.service.GetRehearsal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rehearsal)
}

// TransitionRehearsal handles POST /rehearsals/{id}/transitions.
func (h *Handler) TransitionRehearsal(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	rehearsal, err := h.service.TransitionRehearsal(r.Context(), id, domain.RehearsalStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rehearsal)
}

// CreateGoNoGoItem handles POST /plans/{id}/go-no-go.
func (h *Handler) CreateGoNoGoItem(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateGoNoGoItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.CreateGoNoGoItem(r.Context(), planID, req.Title, req.Owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

// ListGoNoGoItems handles GET /plans/{id}/go-no-go.
func (h *Handler) ListGoNoGoItems(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	items, err := h.service.ListGoNoGoItems(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// DecideGoNoGoItem handles POST /go-no-go/{id}/decision.
func (h *Handler) DecideGoNoGoItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req DecideGoNoGoRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.DecideGoNoGoItem(r.Context(), id,
		domain.GoNoGoDecision(req.Decision), httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// CreateSignoff handles POST /plans/{id}/signoffs.
func (h *Handler) CreateSignoff(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req CreateSignoffRequest
	if !h.decode(w, r, &req) {
		return
	}

	signoff, err := h.service.CreateSignoff(r.Context(), planID, req.Approver, req.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, signoff)
}

// ListSignoffs handles GET /plans/{id}/signoffs.
func (h *Handler) ListSignoffs(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	signoffs, err := h.service.ListSignoffs(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, signoffs)
}

// DecideSignoff handles POST /signoffs/{id}/decision.
func (h *Handler) DecideSignoff(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req DecideSignoffRequest
	if !h.decode(w, r, &req) {
		return
	}

	signoff, err := h.service.DecideSignoff(r.Context(), id, domain.SignoffStatus(req.Status), req.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, signoff)
}
