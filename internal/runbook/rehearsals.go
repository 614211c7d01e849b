package runbook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
	"github.com/bissquit/cutover-garden/internal/pkg/metrics"
)

// CreateRehearsalInput holds data for scheduling a rehearsal.
type CreateRehearsalInput struct {
	Name                   string
	PlannedStart           *time.Time
	PlannedDurationMinutes int
}

// CreateRehearsal schedules a dry run of the plan.
func (s *Service) CreateRehearsal(ctx context.Context, planID string, input CreateRehearsalInput) (*domain.Rehearsal, error) {
	if input.PlannedDurationMinutes < 0 {
		return nil, fmt.Errorf("%w: planned duration must not be negative", ErrInvalidInput)
	}

	var rehearsal *domain.Rehearsal
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetPlan(ctx, planID); err != nil {
			return err
		}

		n, err := tx.NextSequence(ctx, planID, sequenceRehearsal)
		if err != nil {
			return err
		}

		name := strings.TrimSpace(input.Name)
		if name == "" {
			name = fmt.Sprintf("Rehearsal %d", n)
		}

		now := s.clock.Now()
		rehearsal = &domain.Rehearsal{
			PlanID:                 planID,
			Number:                 n,
			Name:                   name,
			Status:                 domain.RehearsalStatusPlanned,
			PlannedStart:           input.PlannedStart,
			PlannedDurationMinutes: input.PlannedDurationMinutes,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		return tx.CreateRehearsal(ctx, rehearsal)
	})
	if err != nil {
		return nil, fmt.Errorf("create rehearsal: %w", err)
	}
	return rehearsal, nil
}

// GetRehearsal retrieves a rehearsal by ID.
func (s *Service) GetRehearsal(ctx context.Context, id string) (*domain.Rehearsal, error) {
	return s.repo.GetRehearsal(ctx, id)
}

// ListRehearsals returns the rehearsals of a plan ordered by number.
func (s *Service) ListRehearsals(ctx context.Context, planID string) ([]*domain.Rehearsal, error) {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListRehearsals(ctx, planID)
}

// TransitionRehearsal moves the rehearsal to a new status. Completing it
// snapshots the plan's work item counts and derives the duration variance.
func (s *Service) TransitionRehearsal(ctx context.Context, id string, to domain.RehearsalStatus) (*domain.Rehearsal, error) {
	var rehearsal *domain.Rehearsal
	var from domain.RehearsalStatus

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		rehearsal, err = tx.GetRehearsalForUpdate(ctx, id)
		if err != nil {
			return err
		}

		from = rehearsal.Status
		if !from.CanTransitionTo(to) {
			return domain.TransitionError("rehearsal", from, to)
		}

		rehearsal.ApplyTransition(to, s.clock.Now())

		if to == domain.RehearsalStatusCompleted {
			items, err := tx.ListWorkItems(ctx, rehearsal.PlanID)
			if err != nil {
				return fmt.Errorf("list work items: %w", err)
			}
			baseline := 0
			for _, it := range items {
				baseline += it.PlannedDurationMinutes
			}
			rehearsal.RecordResults(domain.CountWorkItems(items), baseline)
		}

		return tx.UpdateRehearsal(ctx, rehearsal)
	})
	metrics.RecordTransition("rehearsal", string(to), err)
	if err != nil {
		return nil, fmt.Errorf("transition rehearsal: %w", err)
	}

	logger := ctxlog.FromContext(ctx).With("rehearsal_id", rehearsal.ID, "from", from, "to", to)
	if rehearsal.RevisionNeeded {
		logger.Warn("rehearsal completed, runbook revision needed",
			"failed_items", rehearsal.FailedItems,
			"variance_percent", rehearsal.VariancePercent,
		)
	} else {
		logger.Info("rehearsal transitioned")
	}
	return rehearsal, nil
}

// CreateGoNoGoItem adds a pending readiness checklist entry to the plan.
func (s *Service) CreateGoNoGoItem(ctx context.Context, planID, title, owner string) (*domain.GoNoGoItem, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	item := &domain.GoNoGoItem{
		PlanID:    planID,
		Title:     title,
		Owner:     owner,
		Decision:  domain.GoNoGoPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateGoNoGoItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create go/no-go item: %w", err)
	}
	return item, nil
}

// ListGoNoGoItems returns the plan's readiness checklist.
func (s *Service) ListGoNoGoItems(ctx context.Context, planID string) ([]*domain.GoNoGoItem, error) {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListGoNoGoItems(ctx, planID)
}

// DecideGoNoGoItem records a decision. Setting it back to pending clears
// the decision metadata.
func (s *Service) DecideGoNoGoItem(ctx context.Context, id string, decision domain.GoNoGoDecision, decidedBy string) (*domain.GoNoGoItem, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecision, decision)
	}

	item, err := s.repo.GetGoNoGoItem(ctx, id)
	if err != nil {
		return nil, err
	}

	item.Decision = decision
	if decision == domain.GoNoGoPending {
		item.DecidedBy = ""
		item.DecidedAt = nil
	} else {
		now := s.clock.Now()
		item.DecidedBy = decidedBy
		item.DecidedAt = &now
	}

	if err := s.repo.UpdateGoNoGoItem(ctx, item); err != nil {
		return nil, fmt.Errorf("update go/no-go item: %w", err)
	}
	return item, nil
}

// CreateSignoff requests a hypercare exit approval from approver.
func (s *Service) CreateSignoff(ctx context.Context, planID, approver, comment string) (*domain.HypercareSignoff, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrInvalidInput)
	}
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	signoff := &domain.HypercareSignoff{
		PlanID:    planID,
		Approver:  approver,
		Status:    domain.SignoffPending,
		Comment:   comment,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateSignoff(ctx, signoff); err != nil {
		return nil, fmt.Errorf("create sign-off: %w", err)
	}
	return signoff, nil
}

// ListSignoffs returns the plan's hypercare sign-offs.
func (s *Service) ListSignoffs(ctx context.Context, planID string) ([]*domain.HypercareSignoff, error) {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListSignoffs(ctx, planID)
}

// DecideSignoff approves or rejects a sign-off.
func (s *Service) DecideSignoff(ctx context.Context, id string, status domain.SignoffStatus, comment string) (*domain.HypercareSignoff, error) {
	if !status.IsValid() || status == domain.SignoffPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDecision, status)
	}

	signoff, err := s.repo.GetSignoff(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	signoff.Status = status
	signoff.DecidedAt = &now
	if comment != "" {
		signoff.Comment = comment
	}

	if err := s.repo.UpdateSignoff(ctx, signoff); err != nil {
		return nil, fmt.Errorf("update sign-off: %w", err)
	}
	return signoff, nil
}
