// Package incidents tracks post go-live incidents, their SLA deadlines and
// breach latches.
package incidents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/clock"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
	"github.com/bissquit/cutover-garden/internal/pkg/metrics"
	"github.com/bissquit/cutover-garden/internal/pkg/postgres"
)

// SystemAuthor is the author of audit trail comments written by the service.
const SystemAuthor = "system"

// Service implements incident business logic.
type Service struct {
	repo      Repository
	clock     clock.Clock
	deadlines *DeadlineCalculator
}

// NewService creates a new incident service.
func NewService(repo Repository, clk clock.Clock, deadlines *DeadlineCalculator) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if deadlines == nil {
		deadlines = NewDeadlineCalculator(nil)
	}
	return &Service{
		repo:      repo,
		clock:     clk,
		deadlines: deadlines,
	}
}

// CreateInput holds data for raising an incident.
type CreateInput struct {
	PlanID      string
	Title       string
	Description string
	Severity    domain.Severity
	WorkItemID  *string
}

// Create raises an incident and fixes its response and resolution deadlines.
// Deadlines are never recalculated afterwards.
func (s *Service) Create(ctx context.Context, input CreateInput, reportedBy string) (*domain.Incident, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSeverity, input.Severity)
	}

	var incident *domain.Incident
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetPlanStatus(ctx, input.PlanID); err != nil {
			return err
		}
		if input.WorkItemID != nil {
			ok, err := tx.WorkItemInPlan(ctx, input.PlanID, *input.WorkItemID)
			if err != nil {
				return fmt.Errorf("check work item: %w", err)
			}
			if !ok {
				return ErrWorkItemNotFound
			}
		}

		target, err := s.deadlines.Target(ctx, tx, input.PlanID, input.Severity)
		if err != nil {
			return err
		}

		n, err := tx.NextSequence(ctx, input.PlanID, sequenceIncident)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		response, resolution := Deadlines(target, now)
		incident = &domain.Incident{
			PlanID:             input.PlanID,
			Code:               postgres.FormatCode("INC", n),
			Title:              input.Title,
			Description:        input.Description,
			Severity:           input.Severity,
			Status:             domain.IncidentStatusOpen,
			WorkItemID:         input.WorkItemID,
			ReportedBy:         reportedBy,
			CreatedAt:          now,
			UpdatedAt:          now,
			LastActivityAt:     now,
			ResponseDeadline:   response,
			ResolutionDeadline: resolution,
		}
		return tx.CreateIncident(ctx, incident)
	})
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	ctxlog.FromContext(ctx).Info("incident created",
		"incident_id", incident.ID,
		"code", incident.Code,
		"severity", incident.Severity,
		"response_deadline", incident.ResponseDeadline,
		"resolution_deadline", incident.ResolutionDeadline,
	)
	return incident, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// List retrieves incidents matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*domain.Incident, error) {
	if filter.PlanID != "" {
		if _, err := s.repo.GetPlanStatus(ctx, filter.PlanID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListIncidents(ctx, filter)
}

// AddFirstResponse records the first response. Calling it again returns the
// incident unchanged. A response recorded after the deadline latches the
// response breach.
func (s *Service) AddFirstResponse(ctx context.Context, id, actor string) (*domain.Incident, error) {
	var incident *domain.Incident
	var responseFlipped bool

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		incident, err = tx.GetIncidentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if incident.FirstResponseAt != nil {
			return nil
		}
		if incident.Status == domain.IncidentStatusClosed {
			return ErrIncidentClosed
		}

		now := s.clock.Now()
		responseFlipped = incident.EvaluateResponseBreach(now)
		incident.FirstResponseAt = &now
		incident.LastActivityAt = now
		incident.UpdatedAt = now
		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return err
		}
		return addSystemComment(ctx, tx, incident.ID, fmt.Sprintf("First response by %s", actorName(actor)), now)
	})
	if err != nil {
		return nil, fmt.Errorf("add first response: %w", err)
	}

	if responseFlipped {
		recordBreaches(ctx, incident, true, false)
	}
	return incident, nil
}

// Resolve resolves an open or investigating incident. Breaches are evaluated
// first, so a late resolution still latches resolution_breached.
func (s *Service) Resolve(ctx context.Context, id, resolution, resolvedBy string) (*domain.Incident, error) {
	return s.transition(ctx, id, domain.IncidentStatusResolved, resolvedBy, resolution)
}

// Transition moves the incident to a new status.
func (s *Service) Transition(ctx context.Context, id string, to domain.IncidentStatus, actor string) (*domain.Incident, error) {
	return s.transition(ctx, id, to, actor, "")
}

func (s *Service) transition(ctx context.Context, id string, to domain.IncidentStatus, actor, resolution string) (*domain.Incident, error) {
	var incident *domain.Incident
	var from domain.IncidentStatus
	var response, resolutionFlipped bool

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		incident, err = tx.GetIncidentForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from = incident.Status
		if to == domain.IncidentStatusResolved && from.IsResolved() {
			return ErrAlreadyResolved
		}
		if !from.CanTransitionTo(to) {
			return domain.TransitionError("incident", from, to)
		}

		now := s.clock.Now()
		response, resolutionFlipped = incident.EvaluateBreaches(now)
		if to == domain.IncidentStatusResolved {
			incident.Resolution = resolution
		}
		incident.ApplyTransition(to, actor, now)
		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return err
		}

		body := fmt.Sprintf("Status changed from %s to %s by %s", from, to, actorName(actor))
		if resolution != "" {
			body += ": " + resolution
		}
		return addSystemComment(ctx, tx, incident.ID, body, now)
	})
	metrics.RecordTransition("incident", string(to), err)
	if err != nil {
		return nil, fmt.Errorf("transition incident: %w", err)
	}

	recordBreaches(ctx, incident, response, resolutionFlipped)
	ctxlog.FromContext(ctx).Info("incident transitioned",
		"incident_id", incident.ID,
		"code", incident.Code,
		"from", from,
		"to", to,
	)
	return incident, nil
}

// EvaluateBreaches latches overdue SLA flags on the plan's active incidents
// and returns the incidents whose flags changed. It is safe to call at any
// frequency.
func (s *Service) EvaluateBreaches(ctx context.Context, planID string) ([]*domain.Incident, error) {
	type flip struct {
		incident             *domain.Incident
		response, resolution bool
	}
	var flips []flip

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		active, err := tx.ListActiveIncidentsForUpdate(ctx, planID)
		if err != nil {
			return fmt.Errorf("list active incidents: %w", err)
		}

		now := s.clock.Now()
		for _, inc := range active {
			response, resolution := inc.EvaluateBreaches(now)
			if !response && !resolution {
				continue
			}
			inc.UpdatedAt = now
			if err := tx.UpdateIncident(ctx, inc); err != nil {
				return err
			}
			flips = append(flips, flip{incident: inc, response: response, resolution: resolution})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate breaches: %w", err)
	}

	changed := make([]*domain.Incident, 0, len(flips))
	for _, f := range flips {
		recordBreaches(ctx, f.incident, f.response, f.resolution)
		changed = append(changed, f.incident)
	}
	return changed, nil
}

// GetBreaches evaluates breaches for the plan and returns every incident with
// a breach latch set, including resolved ones.
func (s *Service) GetBreaches(ctx context.Context, planID string) ([]*domain.Incident, error) {
	if _, err := s.repo.GetPlanStatus(ctx, planID); err != nil {
		return nil, err
	}
	if _, err := s.EvaluateBreaches(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListIncidents(ctx, Filter{PlanID: planID, Breached: true})
}

// AddComment appends a user comment and refreshes the incident's activity time.
func (s *Service) AddComment(ctx context.Context, incidentID, author, body string) (*domain.IncidentComment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}

	var comment *domain.IncidentComment
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		incident, err := tx.GetIncidentForUpdate(ctx, incidentID)
		if err != nil {
			return err
		}
		if incident.Status == domain.IncidentStatusClosed {
			return ErrIncidentClosed
		}

		now := s.clock.Now()
		comment = &domain.IncidentComment{
			IncidentID: incidentID,
			Author:     author,
			Body:       body,
			CreatedAt:  now,
		}
		if err := tx.CreateComment(ctx, comment); err != nil {
			return err
		}

		incident.LastActivityAt = now
		incident.UpdatedAt = now
		return tx.UpdateIncident(ctx, incident)
	})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return comment, nil
}

// ListComments returns the incident's audit trail, oldest first.
func (s *Service) ListComments(ctx context.Context, incidentID string) ([]*domain.IncidentComment, error) {
	if _, err := s.repo.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, incidentID)
}

// ListSLATargets returns the effective target for every severity of the plan.
func (s *Service) ListSLATargets(ctx context.Context, planID string) ([]domain.SLATarget, error) {
	if _, err := s.repo.GetPlanStatus(ctx, planID); err != nil {
		return nil, err
	}
	stored, err := s.repo.ListSLATargets(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list sla targets: %w", err)
	}
	return s.deadlines.EffectiveTargets(planID, stored), nil
}

// SetSLATarget overrides the default target of one severity for the plan.
// Incidents already raised keep their deadlines.
func (s *Service) SetSLATarget(ctx context.Context, planID string, severity domain.Severity, responseMinutes, resolutionMinutes int) (*domain.SLATarget, error) {
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSeverity, severity)
	}
	if responseMinutes <= 0 || resolutionMinutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", ErrInvalidInput)
	}
	if responseMinutes > resolutionMinutes {
		return nil, fmt.Errorf("%w: response minutes exceed resolution minutes", ErrInvalidInput)
	}
	if _, err := s.repo.GetPlanStatus(ctx, planID); err != nil {
		return nil, err
	}

	target := &domain.SLATarget{
		PlanID:            planID,
		Severity:          severity,
		ResponseMinutes:   responseMinutes,
		ResolutionMinutes: resolutionMinutes,
		UpdatedAt:         s.clock.Now(),
	}
	if err := s.repo.UpsertSLATarget(ctx, target); err != nil {
		return nil, fmt.Errorf("set sla target: %w", err)
	}
	return target, nil
}

// DeleteSLATarget restores the default target of one severity for the plan.
func (s *Service) DeleteSLATarget(ctx context.Context, planID string, severity domain.Severity) error {
	if !severity.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidSeverity, severity)
	}
	return s.repo.DeleteSLATarget(ctx, planID, severity)
}

func addSystemComment(ctx context.Context, tx Repository, incidentID, body string, now time.Time) error {
	return tx.CreateComment(ctx, &domain.IncidentComment{
		IncidentID: incidentID,
		Author:     SystemAuthor,
		Body:       body,
		IsSystem:   true,
		CreatedAt:  now,
	})
}

func recordBreaches(ctx context.Context, incident *domain.Incident, response, resolution bool) {
	logger := ctxlog.FromContext(ctx)
	if response {
		metrics.BreachesTotal.WithLabelValues("response", string(incident.Severity)).Inc()
		logger.Warn("response sla breached",
			"incident_id", incident.ID, "code", incident.Code, "deadline", incident.ResponseDeadline)
	}
	if resolution {
		metrics.BreachesTotal.WithLabelValues("resolution", string(incident.Severity)).Inc()
		logger.Warn("resolution sla breached",
			"incident_id", incident.ID, "code", incident.Code, "deadline", incident.ResolutionDeadline)
	}
}

func actorName(actor string) string {
	if actor == "" {
		return "unknown"
	}
	return actor
}
