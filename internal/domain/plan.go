package domain

import "time"

// PlanStatus represents the lifecycle state of a cutover plan.
type PlanStatus string

// Plan statuses.
const (
	PlanStatusDraft      PlanStatus = "draft"
	PlanStatusApproved   PlanStatus = "approved"
	PlanStatusRehearsal  PlanStatus = "rehearsal"
	PlanStatusReady      PlanStatus = "ready"
	PlanStatusExecuting  PlanStatus = "executing"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusHypercare  PlanStatus = "hypercare"
	PlanStatusClosed     PlanStatus = "closed"
	PlanStatusRolledBack PlanStatus = "rolled_back"
)

// PlanStatuses lists every plan status.
var PlanStatuses = []PlanStatus{
	PlanStatusDraft, PlanStatusApproved, PlanStatusRehearsal, PlanStatusReady,
	PlanStatusExecuting, PlanStatusCompleted, PlanStatusHypercare,
	PlanStatusClosed, PlanStatusRolledBack,
}

var planTransitions = newTransitionTable(PlanStatuses, map[PlanStatus][]PlanStatus{
	PlanStatusDraft:      {PlanStatusApproved},
	PlanStatusApproved:   {PlanStatusRehearsal, PlanStatusReady},
	PlanStatusRehearsal:  {PlanStatusApproved, PlanStatusReady},
	PlanStatusReady:      {PlanStatusExecuting, PlanStatusApproved},
	PlanStatusExecuting:  {PlanStatusCompleted, PlanStatusRolledBack},
	PlanStatusCompleted:  {PlanStatusHypercare},
	PlanStatusHypercare:  {PlanStatusClosed},
	PlanStatusRolledBack: {PlanStatusDraft},
})

// IsValid checks if the plan status is known.
func (s PlanStatus) IsValid() bool {
	for _, known := range PlanStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the table allows moving to the target status.
func (s PlanStatus) CanTransitionTo(to PlanStatus) bool {
	return planTransitions.allowed(s, to)
}

// IsTerminal reports whether no transition leaves this status.
func (s PlanStatus) IsTerminal() bool {
	return planTransitions.terminal(s)
}

// IsLive reports whether breaches and escalations are actively tracked.
func (s PlanStatus) IsLive() bool {
	return s == PlanStatusExecuting || s == PlanStatusHypercare
}

// Plan is one scheduled cutover event.
type Plan struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Status           PlanStatus `json:"status"`
	PlannedStart     *time.Time `json:"planned_start"`
	PlannedEnd       *time.Time `json:"planned_end"`
	ActualStart      *time.Time `json:"actual_start"`
	ActualEnd        *time.Time `json:"actual_end"`
	RollbackDeadline *time.Time `json:"rollback_deadline"`
	HypercareWeeks   int        `json:"hypercare_weeks"`
	HypercareStart   *time.Time `json:"hypercare_start"`
	HypercareEnd     *time.Time `json:"hypercare_end"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ApplyTransition sets the status and applies the timestamp side effects of
// entering it. Guards are evaluated by the caller before this is invoked.
func (p *Plan) ApplyTransition(to PlanStatus, now time.Time) {
	switch to {
	case PlanStatusExecuting:
		if p.ActualStart == nil {
			p.ActualStart = timePtr(now)
		}
	case PlanStatusCompleted, PlanStatusRolledBack:
		if p.ActualEnd == nil {
			p.ActualEnd = timePtr(now)
		}
	case PlanStatusHypercare:
		if p.HypercareStart == nil {
			start := now
			if p.ActualEnd != nil {
				start = *p.ActualEnd
			}
			p.HypercareStart = timePtr(start)
		}
		if p.HypercareEnd == nil {
			p.HypercareEnd = timePtr(p.HypercareStart.AddDate(0, 0, 7*p.HypercareWeeks))
		}
	}
	p.Status = to
	p.UpdatedAt = now
}

// Scope groups work items inside a plan.
type Scope struct {
	ID        string    `json:"id"`
	PlanID    string    `json:"plan_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}
