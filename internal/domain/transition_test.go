package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanStatus_CanTransitionTo_Exhaustive(t *testing.T) {
	allowed := map[PlanStatus][]PlanStatus{
		PlanStatusDraft:      {PlanStatusApproved},
		PlanStatusApproved:   {PlanStatusRehearsal, PlanStatusReady},
		PlanStatusRehearsal:  {PlanStatusApproved, PlanStatusReady},
		PlanStatusReady:      {PlanStatusExecuting, PlanStatusApproved},
		PlanStatusExecuting:  {PlanStatusCompleted, PlanStatusRolledBack},
		PlanStatusCompleted:  {PlanStatusHypercare},
		PlanStatusHypercare:  {PlanStatusClosed},
		PlanStatusRolledBack: {PlanStatusDraft},
	}

	for _, from := range PlanStatuses {
		for _, to := range PlanStatuses {
			want := contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, PlanStatusClosed.IsTerminal())
	assert.False(t, PlanStatusDraft.IsTerminal())
}

func TestWorkItemStatus_CanTransitionTo_Exhaustive(t *testing.T) {
	allowed := map[WorkItemStatus][]WorkItemStatus{
		WorkItemStatusNotStarted: {WorkItemStatusInProgress, WorkItemStatusSkipped},
		WorkItemStatusInProgress: {WorkItemStatusCompleted, WorkItemStatusFailed, WorkItemStatusRolledBack},
		WorkItemStatusCompleted:  {WorkItemStatusRolledBack},
		WorkItemStatusFailed:     {WorkItemStatusInProgress, WorkItemStatusRolledBack, WorkItemStatusSkipped},
		WorkItemStatusSkipped:    {WorkItemStatusNotStarted},
		WorkItemStatusRolledBack: {WorkItemStatusNotStarted},
	}

	for _, from := range WorkItemStatuses {
		for _, to := range WorkItemStatuses {
			want := contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestRehearsalStatus_CanTransitionTo_Exhaustive(t *testing.T) {
	allowed := map[RehearsalStatus][]RehearsalStatus{
		RehearsalStatusPlanned:    {RehearsalStatusInProgress, RehearsalStatusCancelled},
		RehearsalStatusInProgress: {RehearsalStatusCompleted, RehearsalStatusCancelled},
		RehearsalStatusCancelled:  {RehearsalStatusPlanned},
	}

	for _, from := range RehearsalStatuses {
		for _, to := range RehearsalStatuses {
			want := contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestIncidentStatus_CanTransitionTo_Exhaustive(t *testing.T) {
	allowed := map[IncidentStatus][]IncidentStatus{
		IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusClosed},
		IncidentStatusInvestigating: {IncidentStatusResolved, IncidentStatusClosed},
		IncidentStatusResolved:      {IncidentStatusClosed, IncidentStatusOpen},
		IncidentStatusClosed:        {IncidentStatusOpen},
	}

	for _, from := range IncidentStatuses {
		for _, to := range IncidentStatuses {
			want := contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestUnknownStatuses(t *testing.T) {
	assert.False(t, PlanStatus("archived").IsValid())
	assert.False(t, PlanStatus("archived").CanTransitionTo(PlanStatusDraft))
	assert.False(t, PlanStatusDraft.CanTransitionTo("archived"))
	assert.False(t, WorkItemStatus("done").IsValid())
	assert.False(t, RehearsalStatus("").IsValid())
	assert.False(t, IncidentStatus("pending").IsValid())
	assert.False(t, Severity("P5").IsValid())
	assert.Equal(t, 1, SeverityP1.Rank())
	assert.Equal(t, 4, SeverityP4.Rank())
}

func TestNewTransitionTable_PanicsOnUnknownState(t *testing.T) {
	assert.Panics(t, func() {
		newTransitionTable([]PlanStatus{PlanStatusDraft}, map[PlanStatus][]PlanStatus{
			PlanStatusDraft: {PlanStatusApproved},
		})
	})
}

func TestGuardError(t *testing.T) {
	err := fmt.Errorf("transition plan: %w", NewGuardError("%d go/no-go items pending", 2))

	assert.True(t, errors.Is(err, ErrGuardFailed))
	assert.False(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "2 go/no-go items pending")

	var guard *GuardError
	require.True(t, errors.As(err, &guard))
	assert.Equal(t, "2 go/no-go items pending", guard.Reason)
}

func TestTransitionError(t *testing.T) {
	err := TransitionError("plan", PlanStatusDraft, PlanStatusClosed)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, "invalid status transition: plan cannot move from draft to closed", err.Error())
}

func contains[S comparable](list []S, v S) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
