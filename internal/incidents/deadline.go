package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// TargetReader looks up plan-specific SLA targets.
type TargetReader interface {
	GetSLATarget(ctx context.Context, planID string, severity domain.Severity) (*domain.SLATarget, error)
}

// DeadlineCalculator derives incident deadlines from SLA targets.
type DeadlineCalculator struct {
	defaults map[domain.Severity]domain.SLATarget
}

// NewDeadlineCalculator creates a calculator falling back to defaults for
// severities a plan does not override. A nil map uses domain.DefaultSLATargets.
func NewDeadlineCalculator(defaults map[domain.Severity]domain.SLATarget) *DeadlineCalculator {
	if defaults == nil {
		defaults = domain.DefaultSLATargets
	}
	return &DeadlineCalculator{defaults: defaults}
}

// Target returns the effective SLA target of the plan for severity.
func (c *DeadlineCalculator) Target(ctx context.Context, reader TargetReader, planID string, severity domain.Severity) (domain.SLATarget, error) {
	target, err := reader.GetSLATarget(ctx, planID, severity)
	switch {
	case err == nil:
		return *target, nil
	case errors.Is(err, ErrSLATargetNotFound):
	default:
		return domain.SLATarget{}, fmt.Errorf("get sla target: %w", err)
	}

	def, ok := c.defaults[severity]
	if !ok {
		return domain.SLATarget{}, fmt.Errorf("%w: %s", ErrInvalidSeverity, severity)
	}
	def.PlanID = planID
	return def, nil
}

// Deadlines returns the response and resolution deadlines for an incident
// created at createdAt.
func Deadlines(target domain.SLATarget, createdAt time.Time) (response, resolution time.Time) {
	response = createdAt.Add(time.Duration(target.ResponseMinutes) * time.Minute)
	resolution = createdAt.Add(time.Duration(target.ResolutionMinutes) * time.Minute)
	return response, resolution
}

// EffectiveTargets merges stored targets over the defaults, one per severity,
// ordered from most to least severe.
func (c *DeadlineCalculator) EffectiveTargets(planID string, stored []*domain.SLATarget) []domain.SLATarget {
	bySeverity := make(map[domain.Severity]domain.SLATarget, len(stored))
	for _, t := range stored {
		bySeverity[t.Severity] = *t
	}

	out := make([]domain.SLATarget, 0, len(domain.Severities))
	for _, sev := range domain.Severities {
		t, ok := bySeverity[sev]
		if !ok {
			t = c.defaults[sev]
			t.Severity = sev
			t.PlanID = planID
		}
		out = append(out, t)
	}
	return out
}
