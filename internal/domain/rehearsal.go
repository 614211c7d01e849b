package domain

import (
	"math"
	"time"
)

// RevisionVarianceThreshold is the absolute duration variance, in percent,
// above which a completed rehearsal asks for a runbook revision.
const RevisionVarianceThreshold = 15.0

// RehearsalStatus represents the state of a dry run.
type RehearsalStatus string

// Rehearsal statuses.
const (
	RehearsalStatusPlanned    RehearsalStatus = "planned"
	RehearsalStatusInProgress RehearsalStatus = "in_progress"
	RehearsalStatusCompleted  RehearsalStatus = "completed"
	RehearsalStatusCancelled  RehearsalStatus = "cancelled"
)

// RehearsalStatuses lists every rehearsal status.
var RehearsalStatuses = []RehearsalStatus{
	RehearsalStatusPlanned, RehearsalStatusInProgress, RehearsalStatusCompleted, RehearsalStatusCancelled,
}

var rehearsalTransitions = newTransitionTable(RehearsalStatuses, map[RehearsalStatus][]RehearsalStatus{
	RehearsalStatusPlanned:    {RehearsalStatusInProgress, RehearsalStatusCancelled},
	RehearsalStatusInProgress: {RehearsalStatusCompleted, RehearsalStatusCancelled},
	RehearsalStatusCancelled:  {RehearsalStatusPlanned},
})

// IsValid checks if the rehearsal status is known.
func (s RehearsalStatus) IsValid() bool {
	for _, known := range RehearsalStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the table allows moving to the target status.
func (s RehearsalStatus) CanTransitionTo(to RehearsalStatus) bool {
	return rehearsalTransitions.allowed(s, to)
}

// Rehearsal is a full or partial dry run of a plan's runbook.
type Rehearsal struct {
	ID                     string          `json:"id"`
	PlanID                 string          `json:"plan_id"`
	Number                 int             `json:"number"`
	Name                   string          `json:"name"`
	Status                 RehearsalStatus `json:"status"`
	PlannedStart           *time.Time      `json:"planned_start"`
	PlannedDurationMinutes int             `json:"planned_duration_minutes"`
	ActualStart            *time.Time      `json:"actual_start"`
	ActualEnd              *time.Time      `json:"actual_end"`
	ActualDurationMinutes  *int            `json:"actual_duration_minutes"`
	TotalItems             int             `json:"total_items"`
	CompletedItems         int             `json:"completed_items"`
	FailedItems            int             `json:"failed_items"`
	SkippedItems           int             `json:"skipped_items"`
	VariancePercent        *float64        `json:"variance_percent"`
	RevisionNeeded         bool            `json:"revision_needed"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// ApplyTransition sets the status and the start/end timestamps.
// Completion results are recorded separately with RecordResults.
func (r *Rehearsal) ApplyTransition(to RehearsalStatus, now time.Time) {
	switch to {
	case RehearsalStatusInProgress:
		if r.ActualStart == nil {
			r.ActualStart = timePtr(now)
		}
	case RehearsalStatusCompleted, RehearsalStatusCancelled:
		r.ActualEnd = timePtr(now)
		if r.ActualStart != nil {
			minutes := ElapsedMinutes(*r.ActualStart, now)
			r.ActualDurationMinutes = &minutes
		}
	}
	r.Status = to
	r.UpdatedAt = now
}

// RecordResults stores work item counts and derives the duration variance
// against plannedBaseline minutes. A zero baseline falls back to the
// rehearsal's own planned duration; if both are zero variance stays unset.
func (r *Rehearsal) RecordResults(counts StatusCounts, plannedBaseline int) {
	r.TotalItems = counts.Total
	r.CompletedItems = counts.Completed
	r.FailedItems = counts.Failed
	r.SkippedItems = counts.Skipped

	baseline := plannedBaseline
	if baseline <= 0 {
		baseline = r.PlannedDurationMinutes
	}

	r.VariancePercent = nil
	if baseline > 0 && r.ActualDurationMinutes != nil {
		v := float64(*r.ActualDurationMinutes-baseline) / float64(baseline) * 100
		v = math.Round(v*100) / 100
		r.VariancePercent = &v
	}

	r.RevisionNeeded = r.FailedItems > 0 ||
		(r.VariancePercent != nil && math.Abs(*r.VariancePercent) > RevisionVarianceThreshold)
}

// StatusCounts aggregates work items by status.
type StatusCounts struct {
	Total      int `json:"total"`
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	RolledBack int `json:"rolled_back"`
}

// CountWorkItems tallies items by status.
func CountWorkItems(items []*WorkItem) StatusCounts {
	var c StatusCounts
	for _, it := range items {
		c.Total++
		switch it.Status {
		case WorkItemStatusNotStarted:
			c.NotStarted++
		case WorkItemStatusInProgress:
			c.InProgress++
		case WorkItemStatusCompleted:
			c.Completed++
		case WorkItemStatusFailed:
			c.Failed++
		case WorkItemStatusSkipped:
			c.Skipped++
		case WorkItemStatusRolledBack:
			c.RolledBack++
		}
	}
	return c
}
