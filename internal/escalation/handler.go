package escalation

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
	{Error: ErrDuplicateLevel, Status: http.StatusConflict},
	{Error: ErrIncidentResolved, Status: http.StatusConflict},
	{Error: ErrInvalidRule, Status: http.StatusBadRequest},
	{Error: ErrInvalidInput, Status: http.StatusBadRequest},
	{Error: ErrLockNotAcquired, Status: http.StatusServiceUnavailable},
}

// Handler handles HTTP requests for the escalation module.
type Handler struct {
	engine    *Engine
	validator *validator.Validate
}

// NewHandler creates a new escalation handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine:    engine,
		validator: validator.New(),
	}
}

// RegisterRoutes registers escalation routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans/{id}/escalation-rules", h.ListRules)
	r.Post("/plans/{id}/escalation-rules", h.CreateRule)
	r.Get("/plans/{id}/escalation-rules/{ruleId}", h.GetRule)
	r.Put("/plans/{id}/escalation-rules/{ruleId}", h.UpdateRule)
	r.Delete("/plans/{id}/escalation-rules/{ruleId}", h.DeleteRule)

	r.Get("/plans/{id}/escalations", h.ListPlanEvents)
	r.Post("/plans/{id}/escalations/evaluate", h.Evaluate)

	r.Get("/incidents/{id}/escalations", h.ListEvents)
	r.Post("/incidents/{id}/escalations", h.EscalateManually)

	r.Post("/escalations/{id}/acknowledge", h.Acknowledge)
}

// RuleRequest represents the request body for creating or updating a rule.
type RuleRequest struct {
	Severity            string `json:"severity" validate:"required,oneof=P1 P2 P3 P4"`
	Level               int    `json:"level" validate:"required,gt=0"`
	LevelOrder          int    `json:"level_order" validate:"gte=0"`
	TriggerType         string `json:"trigger_type" validate:"required,oneof=no_response no_update no_resolution"`
	TriggerAfterMinutes int    `json:"trigger_after_minutes" validate:"required,gt=0"`
	NotifyChannel       string `json:"notify_channel" validate:"omitempty,oneof=mattermost slack"`
	NotifyTarget        string `json:"notify_target" validate:"max=500"`
}

func (req RuleRequest) input() RuleInput {
	return RuleInput{
		Severity:            domain.Severity(req.Severity),
		Level:               req.Level,
		LevelOrder:          req.LevelOrder,
		TriggerType:         domain.TriggerType(req.TriggerType),
		TriggerAfterMinutes: req.TriggerAfterMinutes,
		NotifyChannel:       domain.ChannelType(req.NotifyChannel),
		NotifyTarget:        req.NotifyTarget,
	}
}

// ManualRequest represents the request body for a manual escalation.
type ManualRequest struct {
	Level  int    `json:"level" validate:"required,gt=0"`
	Target string `json:"target" validate:"max=500"`
	Notes  string `json:"notes"`
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

// ListRules handles GET /plans/{id}/escalation-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var severity *domain.Severity
	if v := r.URL.Query().Get("severity"); v != "" {
		s := domain.Severity(v)
		if !s.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
			return
		}
		severity = &s
	}

	rules, err := h.engine.ListRules(r.Context(), planID, severity)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rules)
}

// CreateRule handles POST /plans/{id}/escalation-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req RuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.engine.CreateRule(r.Context(), planID, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, rule)
}

// GetRule handles GET /plans/{id}/escalation-rules/{ruleId}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	ruleID, ok := httputil.UUIDParam(w, r, "ruleId")
	if !ok {
		return
	}

	rule, err := h.engine.GetRule(r.Context(), planID, ruleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /plans/{id}/escalation-rules/{ruleId}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	ruleID, ok := httputil.UUIDParam(w, r, "ruleId")
	if !ok {
		return
	}

	var req RuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.engine.UpdateRule(r.Context(), planID, ruleID, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /plans/{id}/escalation-rules/{ruleId}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	ruleID, ok := httputil.UUIDParam(w, r, "ruleId")
	if !ok {
		return
	}

	if err := h.engine.DeleteRule(r.Context(), planID, ruleID); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// Evaluate handles POST /plans/{id}/escalations/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	events, err := h.engine.Evaluate(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, events)
}

// ListPlanEvents handles GET /plans/{id}/escalations.
func (h *Handler) ListPlanEvents(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	events, err := h.engine.ListPlanEvents(r.Context(), planID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, events)
}

// ListEvents handles GET /incidents/{id}/escalations.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	events, err := h.engine.ListEvents(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, events)
}

// EscalateManually handles POST /incidents/{id}/escalations.
func (h *Handler) EscalateManually(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req ManualRequest
	if !h.decode(w, r, &req) {
		return
	}

	event, err := h.engine.EscalateManually(r.Context(), id, req.Level, req.Target, req.Notes,
		httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, event)
}

// Acknowledge handles POST /escalations/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.UUIDParam(w, r, "id")
	if !ok {
		return
	}

	event, err := h.engine.Acknowledge(r.Context(), id, httputil.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, event)
}
