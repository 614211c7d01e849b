package domain

import (
	"math"
	"time"
)

// WorkItemStatus represents the execution state of a runbook step.
type WorkItemStatus string

// Work item statuses.
const (
	WorkItemStatusNotStarted WorkItemStatus = "not_started"
	WorkItemStatusInProgress WorkItemStatus = "in_progress"
	WorkItemStatusCompleted  WorkItemStatus = "completed"
	WorkItemStatusFailed     WorkItemStatus = "failed"
	WorkItemStatusSkipped    WorkItemStatus = "skipped"
	WorkItemStatusRolledBack WorkItemStatus = "rolled_back"
)

// WorkItemStatuses lists every work item status.
var WorkItemStatuses = []WorkItemStatus{
	WorkItemStatusNotStarted, WorkItemStatusInProgress, WorkItemStatusCompleted,
	WorkItemStatusFailed, WorkItemStatusSkipped, WorkItemStatusRolledBack,
}

var workItemTransitions = newTransitionTable(WorkItemStatuses, map[WorkItemStatus][]WorkItemStatus{
	WorkItemStatusNotStarted: {WorkItemStatusInProgress, WorkItemStatusSkipped},
	WorkItemStatusInProgress: {WorkItemStatusCompleted, WorkItemStatusFailed, WorkItemStatusRolledBack},
	WorkItemStatusCompleted:  {WorkItemStatusRolledBack},
	WorkItemStatusFailed:     {WorkItemStatusInProgress, WorkItemStatusRolledBack, WorkItemStatusSkipped},
	WorkItemStatusSkipped:    {WorkItemStatusNotStarted},
	WorkItemStatusRolledBack: {WorkItemStatusNotStarted},
})

// IsValid checks if the work item status is known.
func (s WorkItemStatus) IsValid() bool {
	for _, known := range WorkItemStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the table allows moving to the target status.
func (s WorkItemStatus) CanTransitionTo(to WorkItemStatus) bool {
	return workItemTransitions.allowed(s, to)
}

// SatisfiesDependency reports whether successors of an item in this status may start.
func (s WorkItemStatus) SatisfiesDependency() bool {
	return s == WorkItemStatusCompleted || s == WorkItemStatusSkipped
}

// WorkItem is a single executable runbook step.
type WorkItem struct {
	ID                     string         `json:"id"`
	PlanID                 string         `json:"plan_id"`
	ScopeID                string         `json:"scope_id"`
	Sequence               int            `json:"sequence"`
	Code                   string         `json:"code"`
	Title                  string         `json:"title"`
	Owner                  string         `json:"owner"`
	PlannedStart           *time.Time     `json:"planned_start"`
	PlannedEnd             *time.Time     `json:"planned_end"`
	PlannedDurationMinutes int            `json:"planned_duration_minutes"`
	ActualStart            *time.Time     `json:"actual_start"`
	ActualEnd              *time.Time     `json:"actual_end"`
	ActualDurationMinutes  *int           `json:"actual_duration_minutes"`
	DelayMinutes           *int           `json:"delay_minutes"`
	Status                 WorkItemStatus `json:"status"`
	IsCriticalPath         bool           `json:"is_critical_path"`
	IssueFlag              string         `json:"issue_flag,omitempty"`
	ExecutedBy             string         `json:"executed_by,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// ApplyTransition sets the status and applies the timestamp side effects.
func (w *WorkItem) ApplyTransition(to WorkItemStatus, executedBy string, now time.Time) {
	switch to {
	case WorkItemStatusInProgress:
		if w.ActualStart == nil {
			w.ActualStart = timePtr(now)
		}
	case WorkItemStatusCompleted, WorkItemStatusFailed, WorkItemStatusRolledBack:
		w.ActualEnd = timePtr(now)
		if w.ActualStart != nil {
			minutes := ElapsedMinutes(*w.ActualStart, now)
			w.ActualDurationMinutes = &minutes
		}
		if to == WorkItemStatusCompleted && w.PlannedEnd != nil {
			delay := ElapsedMinutes(*w.PlannedEnd, now)
			w.DelayMinutes = &delay
		}
	}
	if executedBy != "" {
		w.ExecutedBy = executedBy
	}
	w.Status = to
	w.UpdatedAt = now
}

// DependencyType describes how a successor waits on its predecessor.
type DependencyType string

// Dependency types between work items.
const (
	DependencyFinishToStart  DependencyType = "finish_to_start"
	DependencyStartToStart   DependencyType = "start_to_start"
	DependencyFinishToFinish DependencyType = "finish_to_finish"
)

// IsValid checks if the dependency type is known.
func (t DependencyType) IsValid() bool {
	return t == DependencyFinishToStart || t == DependencyStartToStart || t == DependencyFinishToFinish
}

// Dependency is a predecessor -> successor edge between two work items of one plan.
type Dependency struct {
	ID            string         `json:"id"`
	PlanID        string         `json:"plan_id"`
	PredecessorID string         `json:"predecessor_id"`
	SuccessorID   string         `json:"successor_id"`
	Type          DependencyType `json:"type"`
	LagMinutes    int            `json:"lag_minutes"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ElapsedMinutes returns whole minutes from start to end, rounded to nearest.
// The result is negative when end is before start.
func ElapsedMinutes(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}
