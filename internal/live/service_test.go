package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/incidents"
	"github.com/bissquit/cutover-garden/internal/pkg/clock"
	"github.com/bissquit/cutover-garden/internal/runbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)

type fakeRunbook struct {
	plans map[string]*domain.Plan
	items []*domain.WorkItem
	deps  []*domain.Dependency
}

func (f *fakeRunbook) GetPlan(_ context.Context, id string) (*domain.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, runbook.ErrPlanNotFound
	}
	return p, nil
}

func (f *fakeRunbook) ListWorkItems(context.Context, string) ([]*domain.WorkItem, error) {
	return f.items, nil
}

func (f *fakeRunbook) ListDependencies(context.Context, string) ([]*domain.Dependency, error) {
	return f.deps, nil
}

func (f *fakeRunbook) ListLivePlans(context.Context) ([]*domain.Plan, error) {
	list := make([]*domain.Plan, 0)
	for _, p := range f.plans {
		if p.Status.IsLive() {
			list = append(list, p)
		}
	}
	return list, nil
}

type fakeIncidents struct {
	list      []*domain.Incident
	flipped   []*domain.Incident
	evaluated []string
	failFor   string
}

func (f *fakeIncidents) EvaluateBreaches(_ context.Context, planID string) ([]*domain.Incident, error) {
	f.evaluated = append(f.evaluated, planID)
	if planID == f.failFor {
		return nil, errors.New("deadlock detected")
	}
	return f.flipped, nil
}

func (f *fakeIncidents) List(_ context.Context, filter incidents.Filter) ([]*domain.Incident, error) {
	out := make([]*domain.Incident, 0)
	for _, inc := range f.list {
		if filter.ActiveOnly && !inc.Status.IsActive() {
			continue
		}
		if filter.Breached && !inc.IsBreached() {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

type fakeEscalations struct {
	events    []*domain.EscalationEvent
	evaluated []string
}

func (f *fakeEscalations) Evaluate(_ context.Context, planID string) ([]*domain.EscalationEvent, error) {
	f.evaluated = append(f.evaluated, planID)
	return f.events, nil
}

func intPtr(v int) *int { return &v }

func timeAt(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func item(id string, seq int, status domain.WorkItemStatus, critical bool, delay *int) *domain.WorkItem {
	return &domain.WorkItem{
		ID:                     id,
		PlanID:                 "plan-1",
		Sequence:               seq,
		Code:                   id,
		PlannedDurationMinutes: 30,
		Status:                 status,
		IsCriticalPath:         critical,
		DelayMinutes:           delay,
	}
}

func edge(pred, succ string) *domain.Dependency {
	return &domain.Dependency{PlanID: "plan-1", PredecessorID: pred, SuccessorID: succ, Type: domain.DependencyFinishToStart}
}

func newTestService() (*Service, *fakeRunbook, *fakeIncidents, *fakeEscalations) {
	rb := &fakeRunbook{plans: map[string]*domain.Plan{
		"plan-1": {
			ID:               "plan-1",
			Code:             "CUT-0001",
			Status:           domain.PlanStatusExecuting,
			ActualStart:      timeAt(-90 * time.Minute),
			PlannedEnd:       timeAt(30 * time.Minute),
			RollbackDeadline: timeAt(60 * time.Minute),
		},
	}}
	inc := &fakeIncidents{}
	esc := &fakeEscalations{}
	return NewService(rb, inc, esc, clock.NewManual(testNow)), rb, inc, esc
}

func TestGetLiveStatus_Items(t *testing.T) {
	svc, rb, _, _ := newTestService()
	rb.items = []*domain.WorkItem{
		item("a", 1, domain.WorkItemStatusCompleted, true, intPtr(10)),
		item("b", 2, domain.WorkItemStatusInProgress, true, nil),
		item("c", 3, domain.WorkItemStatusNotStarted, true, nil),
		item("d", 4, domain.WorkItemStatusNotStarted, false, nil),
		item("e", 5, domain.WorkItemStatusSkipped, false, nil),
	}
	rb.deps = []*domain.Dependency{edge("a", "b"), edge("b", "c"), edge("a", "d"), edge("e", "d")}

	st, err := svc.GetLiveStatus(context.Background(), "plan-1")
	require.NoError(t, err)

	assert.Equal(t, "CUT-0001", st.PlanCode)
	assert.Equal(t, 5, st.TotalItems)
	assert.Equal(t, 1, st.StatusCounts[domain.WorkItemStatusCompleted])
	assert.Equal(t, 2, st.StatusCounts[domain.WorkItemStatusNotStarted])
	assert.Equal(t, 0, st.StatusCounts[domain.WorkItemStatusFailed])
	assert.InDelta(t, 20.0, st.PercentComplete, 0.001)

	assert.Equal(t, 1, st.BlockedCount)
	assert.Equal(t, []string{"c"}, st.BlockedItemIDs)

	assert.Equal(t, []string{"a", "b", "c"}, st.CriticalPathItemIDs)
	assert.Equal(t, 10, st.CriticalDelayMinutes)
	assert.True(t, st.IsBehindSchedule)
}

func TestGetLiveStatus_EarlyCompletionNotBehind(t *testing.T) {
	svc, rb, _, _ := newTestService()
	rb.items = []*domain.WorkItem{
		item("a", 1, domain.WorkItemStatusCompleted, true, intPtr(-5)),
		item("b", 2, domain.WorkItemStatusCompleted, false, intPtr(40)),
	}

	st, err := svc.GetLiveStatus(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, -5, st.CriticalDelayMinutes)
	assert.False(t, st.IsBehindSchedule, "delay off the critical path does not count")
	assert.InDelta(t, 100.0, st.PercentComplete, 0.001)
}

func TestGetLiveStatus_EmptyPlan(t *testing.T) {
	svc, _, _, _ := newTestService()

	st, err := svc.GetLiveStatus(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Zero(t, st.TotalItems)
	assert.Zero(t, st.PercentComplete)
	assert.Empty(t, st.BlockedItemIDs)
	assert.NotNil(t, st.BlockedItemIDs)
}

func TestGetLiveStatus_Timeline(t *testing.T) {
	svc, rb, _, _ := newTestService()

	st, err := svc.GetLiveStatus(context.Background(), "plan-1")
	require.NoError(t, err)
	require.NotNil(t, st.ElapsedMinutes)
	assert.Equal(t, 90, *st.ElapsedMinutes)
	require.NotNil(t, st.RemainingMinutes)
	assert.Equal(t, 30, *st.RemainingMinutes)
	require.NotNil(t, st.RollbackDeadlineMinutes)
	assert.Equal(t, 60, *st.RollbackDeadlineMinutes)

	plan := rb.plans["plan-1"]
	plan.Status = domain.PlanStatusHypercare
	plan.ActualEnd = timeAt(-10 * time.Minute)

	st, err = svc.GetLiveStatus(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, 80, *st.ElapsedMinutes)
	assert.Nil(t, st.RemainingMinutes)
	assert.Nil(t, st.RollbackDeadlineMinutes)
}

func TestGetLiveStatus_EvaluatesIncidents(t *testing.T) {
	svc, _, inc, esc := newTestService()
	breached := &domain.Incident{ID: "i1", Status: domain.IncidentStatusOpen, ResponseBreached: true}
	inc.list = []*domain.Incident{
		breached,
		{ID: "i2", Status: domain.IncidentStatusInvestigating},
		{ID: "i3", Status: domain.IncidentStatusResolved, ResolutionBreached: true},
	}
	inc.flipped = []*domain.Incident{breached}
	esc.events = []*domain.EscalationEvent{{ID: "ev-1", IncidentID: "i1", Level: 1}}

	st, err := svc.GetLiveStatus(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-1"}, inc.evaluated)
	assert.Equal(t, []string{"plan-1"}, esc.evaluated)
	assert.Equal(t, 2, st.OpenIncidents)
	assert.Equal(t, 2, st.BreachedIncidents)
	assert.Equal(t, 1, st.NewBreaches)
	require.Len(t, st.NewEscalations, 1)
	assert.Equal(t, "ev-1", st.NewEscalations[0].ID)
}

func TestGetLiveStatus_PlanNotFound(t *testing.T) {
	svc, _, inc, _ := newTestService()

	_, err := svc.GetLiveStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, runbook.ErrNotFound)
	assert.Empty(t, inc.evaluated)
}

func TestSweeper_Sweep(t *testing.T) {
	_, rb, inc, esc := newTestService()
	rb.plans["plan-2"] = &domain.Plan{ID: "plan-2", Status: domain.PlanStatusHypercare}
	rb.plans["plan-3"] = &domain.Plan{ID: "plan-3", Status: domain.PlanStatusDraft}
	inc.failFor = "plan-1"

	NewSweeper(time.Minute, rb, inc, esc).Sweep(context.Background())

	assert.ElementsMatch(t, []string{"plan-1", "plan-2"}, inc.evaluated)
	assert.Equal(t, []string{"plan-2"}, esc.evaluated)
}

func TestSweeper_StartStop(t *testing.T) {
	_, rb, inc, esc := newTestService()

	s := NewSweeper(5*time.Millisecond, rb, inc, esc)
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.NotEmpty(t, esc.evaluated)
}
