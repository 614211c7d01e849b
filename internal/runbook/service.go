// Package runbook manages cutover plans, their work items, dependencies,
// rehearsals and readiness gates.
package runbook

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

// DefaultHypercareWeeks is used when neither the plan nor the service sets one.
const DefaultHypercareWeeks = 2

// Service implements runbook business logic.
type Service struct {
	repo           Repository
	clock          clock.Clock
	hypercareWeeks int
}

// NewService creates a new runbook service.
func NewService(repo Repository, clk clock.Clock, hypercareWeeks int) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if hypercareWeeks <= 0 {
		hypercareWeeks = DefaultHypercareWeeks
	}
	return &Service{
		repo:           repo,
		clock:          clk,
		hypercareWeeks: hypercareWeeks,
	}
}

// CreatePlanInput holds data for creating a plan.
type CreatePlanInput struct {
	Name             string
	Description      string
	PlannedStart     *time.Time
	PlannedEnd       *time.Time
	RollbackDeadline *time.Time
	HypercareWeeks   int
}

// UpdatePlanInput holds plan fields editable outside of transitions.
// Nil fields are left unchanged.
type UpdatePlanInput struct {
	Name             *string
	Description      *string
	PlannedStart     *time.Time
	PlannedEnd       *time.Time
	RollbackDeadline *time.Time
	HypercareWeeks   *int
}

// CreatePlan creates a draft plan with the next CUT code.
func (s *Service) CreatePlan(ctx context.Context, input CreatePlanInput, createdBy string) (*domain.Plan, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := checkWindow(input.PlannedStart, input.PlannedEnd); err != nil {
		return nil, err
	}

	weeks := input.HypercareWeeks
	if weeks <= 0 {
		weeks = s.hypercareWeeks
	}

	now := s.clock.Now()
	plan := &domain.Plan{
		Name:             input.Name,
		Description:      input.Description,
		Status:           domain.PlanStatusDraft,
		PlannedStart:     input.PlannedStart,
		PlannedEnd:       input.PlannedEnd,
		RollbackDeadline: input.RollbackDeadline,
		HypercareWeeks:   weeks,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		n, err := tx.NextSequence(ctx, planSequenceScope, sequencePlan)
		if err != nil {
			return err
		}
		plan.Code = postgres.FormatCode("CUT", n)
		return tx.CreatePlan(ctx, plan)
	})
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	ctxlog.FromContext(ctx).Info("plan created", "plan_id", plan.ID, "code", plan.Code)
	return plan, nil
}

// GetPlan retrieves a plan by ID.
func (s *Service) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return s.repo.GetPlan(ctx, id)
}

// ListPlans retrieves plans with optional filters.
func (s *Service) ListPlans(ctx context.Context, filter PlanFilter) ([]*domain.Plan, error) {
	return s.repo.ListPlans(ctx, filter)
}

// ListLivePlans returns plans whose incidents are actively tracked.
func (s *Service) ListLivePlans(ctx context.Context) ([]*domain.Plan, error) {
	var live []*domain.Plan
	for _, status := range []domain.PlanStatus{domain.PlanStatusExecuting, domain.PlanStatusHypercare} {
		st := status
		plans, err := s.repo.ListPlans(ctx, PlanFilter{Status: &st})
		if err != nil {
			return nil, fmt.Errorf("list %s plans: %w", status, err)
		}
		live = append(live, plans...)
	}
	return live, nil
}

// UpdatePlan edits descriptive plan fields. Status only changes through TransitionPlan.
func (s *Service) UpdatePlan(ctx context.Context, id string, input UpdatePlanInput) (*domain.Plan, error) {
	var plan *domain.Plan
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		plan, err = tx.GetPlanForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if input.Name != nil {
			if strings.TrimSpace(*input.Name) == "" {
				return fmt.Errorf("%w: name is required", ErrInvalidInput)
			}
			plan.Name = *input.Name
		}
		if input.Description != nil {
			plan.Description = *input.Description
		}
		if input.PlannedStart != nil {
			plan.PlannedStart = input.PlannedStart
		}
		if input.PlannedEnd != nil {
			plan.PlannedEnd = input.PlannedEnd
		}
		if input.RollbackDeadline != nil {
			plan.RollbackDeadline = input.RollbackDeadline
		}
		if input.HypercareWeeks != nil {
			if *input.HypercareWeeks <= 0 {
				return fmt.Errorf("%w: hypercare_weeks must be positive", ErrInvalidInput)
			}
			plan.HypercareWeeks = *input.HypercareWeeks
		}
		if err := checkWindow(plan.PlannedStart, plan.PlannedEnd); err != nil {
			return err
		}

		plan.UpdatedAt = s.clock.Now()
		return tx.UpdatePlan(ctx, plan)
	})
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return plan, nil
}

// DeletePlan removes a plan and, by cascade, everything it owns.
// Plans that are executing or in hypercare cannot be deleted.
func (s *Service) DeletePlan(ctx context.Context, id string) error {
	return s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		plan, err := tx.GetPlanForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if plan.Status.IsLive() {
			return ErrPlanLive
		}
		return tx.DeletePlan(ctx, id)
	})
}

// TransitionPlan moves the plan to a new status after checking the
// transition table and the entry guards of the target status.
func (s *Service) TransitionPlan(ctx context.Context, id string, to domain.PlanStatus) (*domain.Plan, error) {
	var plan *domain.Plan
	var from domain.PlanStatus

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		plan, err = tx.GetPlanForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from = plan.Status
		if !from.CanTransitionTo(to) {
			return domain.TransitionError("plan", from, to)
		}
		if err := s.checkPlanGuard(ctx, tx, plan, to); err != nil {
			return err
		}

		if plan.HypercareWeeks <= 0 {
			plan.HypercareWeeks = s.hypercareWeeks
		}
		plan.ApplyTransition(to, s.clock.Now())
		return tx.UpdatePlan(ctx, plan)
	})
	metrics.RecordTransition("plan", string(to), err)
	if err != nil {
		return nil, fmt.Errorf("transition plan: %w", err)
	}

	ctxlog.FromContext(ctx).Info("plan transitioned",
		"plan_id", plan.ID,
		"from", from,
		"to", to,
	)
	return plan, nil
}

func (s *Service) checkPlanGuard(ctx context.Context, tx Repository, plan *domain.Plan, to domain.PlanStatus) error {
	switch to {
	case domain.PlanStatusReady:
		n, err := tx.CountRehearsals(ctx, plan.ID, domain.RehearsalStatusCompleted)
		if err != nil {
			return fmt.Errorf("count completed rehearsals: %w", err)
		}
		if n == 0 {
			return domain.NewGuardError("plan %s needs at least one completed rehearsal before it can be ready", plan.Code)
		}
	case domain.PlanStatusExecuting:
		n, err := tx.CountGoNoGoItems(ctx, plan.ID, domain.GoNoGoPending)
		if err != nil {
			return fmt.Errorf("count pending go/no-go items: %w", err)
		}
		if n > 0 {
			return domain.NewGuardError("plan %s has %d pending go/no-go items", plan.Code, n)
		}
	case domain.PlanStatusClosed:
		n, err := tx.CountSignoffs(ctx, plan.ID, domain.SignoffApproved)
		if err != nil {
			return fmt.Errorf("count approved sign-offs: %w", err)
		}
		if n == 0 {
			return domain.NewGuardError("plan %s cannot close without an approved hypercare sign-off", plan.Code)
		}
	}
	return nil
}

// CreateScope adds a work item grouping to a plan.
func (s *Service) CreateScope(ctx context.Context, planID, name string, position int) (*domain.Scope, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	scope := &domain.Scope{
		PlanID:    planID,
		Name:      name,
		Position:  position,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateScope(ctx, scope); err != nil {
		return nil, fmt.Errorf("create scope: %w", err)
	}
	return scope, nil
}

// ListScopes returns the scopes of a plan ordered by position.
func (s *Service) ListScopes(ctx context.Context, planID string) ([]*domain.Scope, error) {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListScopes(ctx, planID)
}

func checkWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: planned end is before planned start", ErrInvalidInput)
	}
	return nil
}
