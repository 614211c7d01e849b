package runbook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
	"github.com/bissquit/cutover-garden/internal/pkg/metrics"
	"github.com/bissquit/cutover-garden/internal/pkg/postgres"
)

// CreateWorkItemInput holds data for creating a work item.
type CreateWorkItemInput struct {
	PlanID                 string
	ScopeID                string
	Title                  string
	Owner                  string
	PlannedStart           *time.Time
	PlannedEnd             *time.Time
	PlannedDurationMinutes int
}

// UpdateWorkItemInput holds editable work item fields. Nil fields are left unchanged.
type UpdateWorkItemInput struct {
	Title                  *string
	Owner                  *string
	PlannedStart           *time.Time
	PlannedEnd             *time.Time
	PlannedDurationMinutes *int
	IssueFlag              *string
}

// CreateWorkItem adds a work item to a scope. The sequence number is unique
// within the plan and drives the WI code and critical path tie-breaking.
func (s *Service) CreateWorkItem(ctx context.Context, input CreateWorkItemInput) (*domain.WorkItem, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.PlannedDurationMinutes < 0 {
		return nil, fmt.Errorf("%w: planned duration must not be negative", ErrInvalidInput)
	}
	if err := checkWindow(input.PlannedStart, input.PlannedEnd); err != nil {
		return nil, err
	}

	duration := input.PlannedDurationMinutes
	if duration == 0 && input.PlannedStart != nil && input.PlannedEnd != nil {
		duration = domain.ElapsedMinutes(*input.PlannedStart, *input.PlannedEnd)
	}

	var item *domain.WorkItem
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		scope, err := tx.GetScope(ctx, input.ScopeID)
		if err != nil {
			return err
		}
		if input.PlanID != "" && scope.PlanID != input.PlanID {
			return ErrScopeNotFound
		}

		seq, err := tx.NextSequence(ctx, scope.PlanID, sequenceWorkItem)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		item = &domain.WorkItem{
			PlanID:                 scope.PlanID,
			ScopeID:                scope.ID,
			Sequence:               seq,
			Code:                   postgres.FormatCode("WI", seq),
			Title:                  input.Title,
			Owner:                  input.Owner,
			PlannedStart:           input.PlannedStart,
			PlannedEnd:             input.PlannedEnd,
			PlannedDurationMinutes: duration,
			Status:                 domain.WorkItemStatusNotStarted,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		return tx.CreateWorkItem(ctx, item)
	})
	if err != nil {
		return nil, fmt.Errorf("create work item: %w", err)
	}
	return item, nil
}

// GetWorkItem retrieves a work item by ID.
func (s *Service) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	return s.repo.GetWorkItem(ctx, id)
}

// ListWorkItems returns the plan's work items ordered by sequence.
func (s *Service) ListWorkItems(ctx context.Context, planID string) ([]*domain.WorkItem, error) {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListWorkItems(ctx, planID)
}

// UpdateWorkItem edits planning fields and the issue flag.
func (s *Service) UpdateWorkItem(ctx context.Context, id string, input UpdateWorkItemInput) (*domain.WorkItem, error) {
	var item *domain.WorkItem
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = tx.GetWorkItemForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if input.Title != nil {
			if strings.TrimSpace(*input.Title) == "" {
				return fmt.Errorf("%w: title is required", ErrInvalidInput)
			}
			item.Title = *input.Title
		}
		if input.Owner != nil {
			item.Owner = *input.Owner
		}
		if input.PlannedStart != nil {
			item.PlannedStart = input.PlannedStart
		}
		if input.PlannedEnd != nil {
			item.PlannedEnd = input.PlannedEnd
		}
		if input.PlannedDurationMinutes != nil {
			if *input.PlannedDurationMinutes < 0 {
				return fmt.Errorf("%w: planned duration must not be negative", ErrInvalidInput)
			}
			item.PlannedDurationMinutes = *input.PlannedDurationMinutes
		}
		if input.IssueFlag != nil {
			item.IssueFlag = *input.IssueFlag
		}
		if err := checkWindow(item.PlannedStart, item.PlannedEnd); err != nil {
			return err
		}

		item.UpdatedAt = s.clock.Now()
		return tx.UpdateWorkItem(ctx, item)
	})
	if err != nil {
		return nil, fmt.Errorf("update work item: %w", err)
	}
	return item, nil
}

// DeleteWorkItem removes a work item and its dependency edges.
func (s *Service) DeleteWorkItem(ctx context.Context, id string) error {
	return s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		item, err := tx.GetWorkItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if item.Status == domain.WorkItemStatusInProgress {
			return domain.NewGuardError("work item %s is in progress", item.Code)
		}
		return tx.DeleteWorkItem(ctx, id)
	})
}

// TransitionWorkItem moves the work item to a new status. Entering
// in_progress requires every predecessor to be completed or skipped.
func (s *Service) TransitionWorkItem(ctx context.Context, id string, to domain.WorkItemStatus, executedBy string) (*domain.WorkItem, error) {
	var item *domain.WorkItem
	var from domain.WorkItemStatus

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		item, err = tx.GetWorkItemForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from = item.Status
		if !from.CanTransitionTo(to) {
			return domain.TransitionError("work item", from, to)
		}

		if to == domain.WorkItemStatusInProgress {
			preds, err := tx.ListPredecessors(ctx, item.ID)
			if err != nil {
				return fmt.Errorf("list predecessors: %w", err)
			}
			var waiting []string
			for _, p := range preds {
				if !p.Status.SatisfiesDependency() {
					waiting = append(waiting, fmt.Sprintf("%s (%s)", p.Code, p.Status))
				}
			}
			if len(waiting) > 0 {
				return domain.NewGuardError("work item %s is waiting on %s", item.Code, strings.Join(waiting, ", "))
			}
		}

		item.ApplyTransition(to, executedBy, s.clock.Now())
		return tx.UpdateWorkItem(ctx, item)
	})
	metrics.RecordTransition("work_item", string(to), err)
	if err != nil {
		return nil, fmt.Errorf("transition work item: %w", err)
	}

	ctxlog.FromContext(ctx).Info("work item transitioned",
		"work_item_id", item.ID,
		"code", item.Code,
		"from", from,
		"to", to,
		"executed_by", executedBy,
	)
	return item, nil
}
