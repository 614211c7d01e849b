// Package live composes runbook, incident and escalation state into the
// read-only execution snapshot shown on the cutover war-room board.
package live

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/incidents"
	"github.com/bissquit/cutover-garden/internal/pkg/clock"
	"github.com/bissquit/cutover-garden/internal/runbook"
)

// Runbook reads plan structure.
type Runbook interface {
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	ListWorkItems(ctx context.Context, planID string) ([]*domain.WorkItem, error)
	ListDependencies(ctx context.Context, planID string) ([]*domain.Dependency, error)
}

// Incidents evaluates and lists incidents.
type Incidents interface {
	EvaluateBreaches(ctx context.Context, planID string) ([]*domain.Incident, error)
	List(ctx context.Context, filter incidents.Filter) ([]*domain.Incident, error)
}

// Escalations evaluates escalation rules.
type Escalations interface {
	Evaluate(ctx context.Context, planID string) ([]*domain.EscalationEvent, error)
}

// Status is a point-in-time execution snapshot of one plan.
type Status struct {
	PlanID     string            `json:"plan_id"`
	PlanCode   string            `json:"plan_code"`
	PlanStatus domain.PlanStatus `json:"plan_status"`
	Now        time.Time         `json:"now"`

	TotalItems      int                           `json:"total_items"`
	StatusCounts    map[domain.WorkItemStatus]int `json:"status_counts"`
	PercentComplete float64                       `json:"percent_complete"`
	BlockedCount    int                           `json:"blocked_count"`
	BlockedItemIDs  []string                      `json:"blocked_item_ids"`

	CriticalPathItemIDs  []string `json:"critical_path_item_ids"`
	CriticalDelayMinutes int      `json:"critical_delay_minutes"`
	IsBehindSchedule     bool     `json:"is_behind_schedule"`

	ElapsedMinutes          *int `json:"elapsed_minutes"`
	RemainingMinutes        *int `json:"remaining_minutes"`
	RollbackDeadlineMinutes *int `json:"rollback_deadline_minutes"`

	OpenIncidents     int                       `json:"open_incidents"`
	BreachedIncidents int                       `json:"breached_incidents"`
	NewBreaches       int                       `json:"new_breaches"`
	NewEscalations    []*domain.EscalationEvent `json:"new_escalations"`
}

// Service builds live snapshots.
type Service struct {
	runbook     Runbook
	incidents   Incidents
	escalations Escalations
	clock       clock.Clock
}

// NewService creates a new live status service.
func NewService(rb Runbook, inc Incidents, esc Escalations, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		runbook:     rb,
		incidents:   inc,
		escalations: esc,
		clock:       clk,
	}
}

// GetLiveStatus returns the plan's execution snapshot. Reading it runs the
// breach evaluator and the escalation engine first, so the incident figures
// reflect the current time.
func (s *Service) GetLiveStatus(ctx context.Context, planID string) (*Status, error) {
	plan, err := s.runbook.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	flipped, err := s.incidents.EvaluateBreaches(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("evaluate breaches: %w", err)
	}
	escalated, err := s.escalations.Evaluate(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("evaluate escalations: %w", err)
	}

	items, err := s.runbook.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	deps, err := s.runbook.ListDependencies(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	active, err := s.incidents.List(ctx, incidents.Filter{PlanID: planID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	breached, err := s.incidents.List(ctx, incidents.Filter{PlanID: planID, Breached: true})
	if err != nil {
		return nil, fmt.Errorf("list breached incidents: %w", err)
	}

	now := s.clock.Now()
	st := &Status{
		PlanID:            plan.ID,
		PlanCode:          plan.Code,
		PlanStatus:        plan.Status,
		Now:               now,
		OpenIncidents:     len(active),
		BreachedIncidents: len(breached),
		NewBreaches:       len(flipped),
		NewEscalations:    escalated,
	}
	if err := st.summariseItems(items, deps); err != nil {
		return nil, err
	}
	st.timeline(plan, now)
	return st, nil
}

func (st *Status) summariseItems(items []*domain.WorkItem, deps []*domain.Dependency) error {
	st.TotalItems = len(items)
	st.StatusCounts = make(map[domain.WorkItemStatus]int, len(domain.WorkItemStatuses))
	for _, status := range domain.WorkItemStatuses {
		st.StatusCounts[status] = 0
	}
	st.BlockedItemIDs = make([]string, 0)
	st.CriticalPathItemIDs = make([]string, 0)

	byID := make(map[string]*domain.WorkItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
		st.StatusCounts[it.Status]++

		if !it.IsCriticalPath {
			continue
		}
		st.CriticalPathItemIDs = append(st.CriticalPathItemIDs, it.ID)
		if it.DelayMinutes != nil {
			st.CriticalDelayMinutes += *it.DelayMinutes
			if *it.DelayMinutes > 0 {
				st.IsBehindSchedule = true
			}
		}
	}

	if st.TotalItems > 0 {
		pct := float64(st.StatusCounts[domain.WorkItemStatusCompleted]) / float64(st.TotalItems) * 100
		st.PercentComplete = math.Round(pct*10) / 10
	}

	g, err := runbook.BuildGraph(items, deps)
	if err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	for idx := 0; idx < g.Len(); idx++ {
		it := byID[g.ID(idx)]
		if it.Status.SatisfiesDependency() {
			continue
		}
		for _, p := range g.Predecessors(idx) {
			if !byID[g.ID(p)].Status.SatisfiesDependency() {
				st.BlockedItemIDs = append(st.BlockedItemIDs, it.ID)
				break
			}
		}
	}
	st.BlockedCount = len(st.BlockedItemIDs)
	return nil
}

func (st *Status) timeline(plan *domain.Plan, now time.Time) {
	if plan.ActualStart != nil {
		end := now
		if plan.ActualEnd != nil {
			end = *plan.ActualEnd
		}
		st.ElapsedMinutes = minutesPtr(*plan.ActualStart, end)
	}
	if plan.PlannedEnd != nil && plan.ActualEnd == nil {
		st.RemainingMinutes = minutesPtr(now, *plan.PlannedEnd)
	}
	if plan.RollbackDeadline != nil && plan.Status == domain.PlanStatusExecuting {
		st.RollbackDeadlineMinutes = minutesPtr(now, *plan.RollbackDeadline)
	}
}

func minutesPtr(from, to time.Time) *int {
	m := domain.ElapsedMinutes(from, to)
	return &m
}
