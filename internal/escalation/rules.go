package escalation

import (
	"context"
	"fmt"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// RuleInput holds the writable fields of an escalation rule.
type RuleInput struct {
	Severity            domain.Severity
	Level               int
	LevelOrder          int
	TriggerType         domain.TriggerType
	TriggerAfterMinutes int
	NotifyChannel       domain.ChannelType
	NotifyTarget        string
}

func (in RuleInput) validate() error {
	if !in.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, in.Severity)
	}
	if in.Level <= 0 {
		return fmt.Errorf("%w: level must be positive", ErrInvalidRule)
	}
	if in.LevelOrder < 0 {
		return fmt.Errorf("%w: level_order must not be negative", ErrInvalidRule)
	}
	if !in.TriggerType.IsValid() {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, in.TriggerType)
	}
	if in.TriggerAfterMinutes <= 0 {
		return fmt.Errorf("%w: trigger_after_minutes must be positive", ErrInvalidRule)
	}
	if in.NotifyChannel != "" && !in.NotifyChannel.IsValid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidRule, in.NotifyChannel)
	}
	return nil
}

func (in RuleInput) apply(rule *domain.EscalationRule) {
	rule.Severity = in.Severity
	rule.Level = in.Level
	rule.LevelOrder = in.LevelOrder
	rule.TriggerType = in.TriggerType
	rule.TriggerAfterMinutes = in.TriggerAfterMinutes
	rule.NotifyChannel = in.NotifyChannel
	rule.NotifyTarget = in.NotifyTarget
}

// CreateRule adds a rule to the plan's policy. A level or level order already
// used for the same severity is rejected with ErrDuplicateLevel.
func (e *Engine) CreateRule(ctx context.Context, planID string, in RuleInput) (*domain.EscalationRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := e.checkPlan(ctx, planID); err != nil {
		return nil, err
	}

	rule := &domain.EscalationRule{PlanID: planID, CreatedAt: e.clock.Now()}
	in.apply(rule)
	if err := e.repo.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create escalation rule: %w", err)
	}
	e.rules.invalidate(planID)
	return rule, nil
}

// GetRule returns a rule of the plan.
func (e *Engine) GetRule(ctx context.Context, planID, id string) (*domain.EscalationRule, error) {
	rule, err := e.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.PlanID != planID {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// ListRules returns the plan's rules, optionally limited to one severity.
func (e *Engine) ListRules(ctx context.Context, planID string, severity *domain.Severity) ([]*domain.EscalationRule, error) {
	if err := e.checkPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.repo.ListRules(ctx, planID, severity)
}

// UpdateRule replaces the writable fields of a rule.
func (e *Engine) UpdateRule(ctx context.Context, planID, id string, in RuleInput) (*domain.EscalationRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	rule, err := e.GetRule(ctx, planID, id)
	if err != nil {
		return nil, err
	}

	in.apply(rule)
	if err := e.repo.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("update escalation rule: %w", err)
	}
	e.rules.invalidate(planID)
	return rule, nil
}

// DeleteRule removes a rule. Events already created by it keep their level.
func (e *Engine) DeleteRule(ctx context.Context, planID, id string) error {
	if _, err := e.GetRule(ctx, planID, id); err != nil {
		return err
	}
	if err := e.repo.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete escalation rule: %w", err)
	}
	e.rules.invalidate(planID)
	return nil
}
