package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

func TestPlan_ApplyTransition_Timestamps(t *testing.T) {
	p := &Plan{Status: PlanStatusReady, HypercareWeeks: 2}

	p.ApplyTransition(PlanStatusExecuting, base)
	require.NotNil(t, p.ActualStart)
	assert.Equal(t, base, *p.ActualStart)

	// Actual start is not overwritten by a later entry.
	p.ApplyTransition(PlanStatusExecuting, base.Add(time.Hour))
	assert.Equal(t, base, *p.ActualStart)

	end := base.Add(6 * time.Hour)
	p.ApplyTransition(PlanStatusCompleted, end)
	require.NotNil(t, p.ActualEnd)
	assert.Equal(t, end, *p.ActualEnd)

	p.ApplyTransition(PlanStatusHypercare, end.Add(30*time.Minute))
	require.NotNil(t, p.HypercareStart)
	require.NotNil(t, p.HypercareEnd)
	assert.Equal(t, end, *p.HypercareStart, "hypercare starts at actual end")
	assert.Equal(t, end.AddDate(0, 0, 14), *p.HypercareEnd)
	assert.Equal(t, PlanStatusHypercare, p.Status)
}

func TestPlan_ApplyTransition_HypercareWithoutActualEnd(t *testing.T) {
	p := &Plan{Status: PlanStatusCompleted, HypercareWeeks: 1}

	p.ApplyTransition(PlanStatusHypercare, base)

	assert.Equal(t, base, *p.HypercareStart)
	assert.Equal(t, base.AddDate(0, 0, 7), *p.HypercareEnd)
}

func TestWorkItem_ApplyTransition(t *testing.T) {
	plannedEnd := base.Add(45 * time.Minute)
	w := &WorkItem{Status: WorkItemStatusNotStarted, PlannedEnd: &plannedEnd}

	w.ApplyTransition(WorkItemStatusInProgress, "alice", base)
	require.NotNil(t, w.ActualStart)
	assert.Equal(t, "alice", w.ExecutedBy)

	w.ApplyTransition(WorkItemStatusCompleted, "", base.Add(60*time.Minute))
	require.NotNil(t, w.ActualDurationMinutes)
	assert.Equal(t, 60, *w.ActualDurationMinutes)
	require.NotNil(t, w.DelayMinutes)
	assert.Equal(t, 15, *w.DelayMinutes)
	assert.Equal(t, "alice", w.ExecutedBy)
}

func TestWorkItem_ApplyTransition_EarlyCompletion(t *testing.T) {
	plannedEnd := base.Add(90 * time.Minute)
	w := &WorkItem{Status: WorkItemStatusInProgress, ActualStart: &base, PlannedEnd: &plannedEnd}

	w.ApplyTransition(WorkItemStatusCompleted, "bob", base.Add(80*time.Minute))

	assert.Equal(t, -10, *w.DelayMinutes)
}

func TestWorkItem_ApplyTransition_FailedRecordsNoDelay(t *testing.T) {
	plannedEnd := base.Add(10 * time.Minute)
	w := &WorkItem{Status: WorkItemStatusInProgress, ActualStart: &base, PlannedEnd: &plannedEnd}

	w.ApplyTransition(WorkItemStatusFailed, "bob", base.Add(20*time.Minute))

	assert.Equal(t, 20, *w.ActualDurationMinutes)
	assert.Nil(t, w.DelayMinutes)
}

func TestRehearsal_RecordResults(t *testing.T) {
	tests := []struct {
		name         string
		actual       int
		baseline     int
		planned      int
		counts       StatusCounts
		wantVariance *float64
		wantRevision bool
	}{
		{"on time", 100, 100, 0, StatusCounts{Total: 3, Completed: 3}, floatPtr(0), false},
		{"within tolerance", 115, 100, 0, StatusCounts{Total: 3, Completed: 3}, floatPtr(15), false},
		{"overrun", 116, 100, 0, StatusCounts{Total: 3, Completed: 3}, floatPtr(16), true},
		{"underrun", 80, 100, 0, StatusCounts{Total: 3, Completed: 3}, floatPtr(-20), true},
		{"failed item", 100, 100, 0, StatusCounts{Total: 3, Completed: 2, Failed: 1}, floatPtr(0), true},
		{"fallback to own planned duration", 90, 0, 60, StatusCounts{Total: 1, Completed: 1}, floatPtr(50), true},
		{"no baseline", 90, 0, 0, StatusCounts{Total: 1, Completed: 1}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := tt.actual
			r := &Rehearsal{PlannedDurationMinutes: tt.planned, ActualDurationMinutes: &actual}

			r.RecordResults(tt.counts, tt.baseline)

			assert.Equal(t, tt.counts.Total, r.TotalItems)
			assert.Equal(t, tt.counts.Failed, r.FailedItems)
			if tt.wantVariance == nil {
				assert.Nil(t, r.VariancePercent)
			} else {
				require.NotNil(t, r.VariancePercent)
				assert.InDelta(t, *tt.wantVariance, *r.VariancePercent, 0.001)
			}
			assert.Equal(t, tt.wantRevision, r.RevisionNeeded)
		})
	}
}

func TestIncident_ApplyTransition_ResolveAndReopen(t *testing.T) {
	inc := &Incident{Status: IncidentStatusOpen, CreatedAt: base, ResolutionBreached: true}

	inc.ApplyTransition(IncidentStatusResolved, "carol", base.Add(95*time.Minute))
	require.NotNil(t, inc.ResolvedAt)
	assert.Equal(t, 95, *inc.ResolutionMinutes)
	assert.Equal(t, "carol", inc.ResolvedBy)

	inc.ApplyTransition(IncidentStatusClosed, "carol", base.Add(2*time.Hour))
	require.NotNil(t, inc.ClosedAt)
	require.NotNil(t, inc.ResolvedAt)

	inc.ApplyTransition(IncidentStatusOpen, "dave", base.Add(3*time.Hour))
	assert.Nil(t, inc.ResolvedAt)
	assert.Nil(t, inc.ResolutionMinutes)
	assert.Nil(t, inc.ClosedAt)
	assert.Empty(t, inc.ResolvedBy)
	assert.True(t, inc.ResolutionBreached, "reopen keeps breach latch")
	assert.Equal(t, base.Add(3*time.Hour), inc.LastActivityAt)
}

func TestIncident_EvaluateBreaches(t *testing.T) {
	newIncident := func() *Incident {
		return &Incident{
			Status:             IncidentStatusOpen,
			CreatedAt:          base,
			ResponseDeadline:   base.Add(15 * time.Minute),
			ResolutionDeadline: base.Add(240 * time.Minute),
		}
	}

	t.Run("before deadlines", func(t *testing.T) {
		inc := newIncident()
		resp, res := inc.EvaluateBreaches(base.Add(15 * time.Minute))
		assert.False(t, resp)
		assert.False(t, res)
		assert.False(t, inc.IsBreached())
	})

	t.Run("response deadline passed", func(t *testing.T) {
		inc := newIncident()
		resp, res := inc.EvaluateBreaches(base.Add(16 * time.Minute))
		assert.True(t, resp)
		assert.False(t, res)

		resp, _ = inc.EvaluateBreaches(base.Add(17 * time.Minute))
		assert.False(t, resp, "latch flips once")
		assert.True(t, inc.ResponseBreached)
	})

	t.Run("first response recorded", func(t *testing.T) {
		inc := newIncident()
		responded := base.Add(5 * time.Minute)
		inc.FirstResponseAt = &responded
		resp, _ := inc.EvaluateBreaches(base.Add(time.Hour))
		assert.False(t, resp)
	})

	t.Run("resolution deadline passed", func(t *testing.T) {
		inc := newIncident()
		_, res := inc.EvaluateBreaches(base.Add(241 * time.Minute))
		assert.True(t, res)
		assert.True(t, inc.ResolutionBreached)
	})

	t.Run("resolved incidents are skipped", func(t *testing.T) {
		inc := newIncident()
		inc.Status = IncidentStatusResolved
		resp, res := inc.EvaluateBreaches(base.Add(24 * time.Hour))
		assert.False(t, resp)
		assert.False(t, res)
	})

	t.Run("latches survive resolution", func(t *testing.T) {
		inc := newIncident()
		inc.EvaluateBreaches(base.Add(time.Hour))
		inc.ApplyTransition(IncidentStatusResolved, "x", base.Add(2*time.Hour))
		inc.EvaluateBreaches(base.Add(3 * time.Hour))
		assert.True(t, inc.ResponseBreached)
	})
}

func TestEscalationRule_Triggered(t *testing.T) {
	responded := base.Add(2 * time.Minute)

	tests := []struct {
		name     string
		rule     EscalationRule
		incident Incident
		now      time.Time
		want     bool
	}{
		{
			name:     "no response below threshold",
			rule:     EscalationRule{TriggerType: TriggerNoResponse, TriggerAfterMinutes: 10},
			incident: Incident{Status: IncidentStatusOpen, CreatedAt: base},
			now:      base.Add(9 * time.Minute),
		},
		{
			name:     "no response at threshold",
			rule:     EscalationRule{TriggerType: TriggerNoResponse, TriggerAfterMinutes: 10},
			incident: Incident{Status: IncidentStatusOpen, CreatedAt: base},
			now:      base.Add(10 * time.Minute),
			want:     true,
		},
		{
			name:     "no response satisfied by first response",
			rule:     EscalationRule{TriggerType: TriggerNoResponse, TriggerAfterMinutes: 10},
			incident: Incident{Status: IncidentStatusOpen, CreatedAt: base, FirstResponseAt: &responded},
			now:      base.Add(time.Hour),
		},
		{
			name:     "no update counts from last activity",
			rule:     EscalationRule{TriggerType: TriggerNoUpdate, TriggerAfterMinutes: 30},
			incident: Incident{Status: IncidentStatusInvestigating, CreatedAt: base, LastActivityAt: base.Add(20 * time.Minute)},
			now:      base.Add(45 * time.Minute),
		},
		{
			name:     "no update triggers",
			rule:     EscalationRule{TriggerType: TriggerNoUpdate, TriggerAfterMinutes: 30},
			incident: Incident{Status: IncidentStatusInvestigating, CreatedAt: base, LastActivityAt: base.Add(20 * time.Minute)},
			now:      base.Add(50 * time.Minute),
			want:     true,
		},
		{
			name:     "no resolution triggers while investigating",
			rule:     EscalationRule{TriggerType: TriggerNoResolution, TriggerAfterMinutes: 60},
			incident: Incident{Status: IncidentStatusInvestigating, CreatedAt: base},
			now:      base.Add(61 * time.Minute),
			want:     true,
		},
		{
			name:     "no resolution ignores resolved",
			rule:     EscalationRule{TriggerType: TriggerNoResolution, TriggerAfterMinutes: 60},
			incident: Incident{Status: IncidentStatusResolved, CreatedAt: base},
			now:      base.Add(61 * time.Minute),
		},
		{
			name:     "unknown trigger",
			rule:     EscalationRule{TriggerType: "never", TriggerAfterMinutes: 0},
			incident: Incident{Status: IncidentStatusOpen, CreatedAt: base},
			now:      base.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Triggered(&tt.incident, tt.now))
		})
	}
}

func TestIncident_RecordEscalation(t *testing.T) {
	inc := &Incident{CurrentEscalationLevel: 2}

	inc.RecordEscalation(1, base)
	assert.Equal(t, 2, inc.CurrentEscalationLevel)
	assert.Equal(t, 1, inc.EscalationCount)

	inc.RecordEscalation(3, base.Add(time.Minute))
	assert.Equal(t, 3, inc.CurrentEscalationLevel)
	assert.Equal(t, 2, inc.EscalationCount)
	assert.Equal(t, base.Add(time.Minute), *inc.LastEscalatedAt)
}

func floatPtr(f float64) *float64 {
	return &f
}
