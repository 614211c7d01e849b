package incidents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// memRepository implements Repository in memory for testing.
type memRepository struct {
	mu sync.Mutex

	nextID    int
	sequences map[string]int

	plans     map[string]domain.PlanStatus
	workItems map[string]string // work item id -> plan id
	incidents map[string]domain.Incident
	comments  []domain.IncidentComment
	targets   map[string]domain.SLATarget
}

func newMemRepository() *memRepository {
	return &memRepository{
		sequences: make(map[string]int),
		plans:     make(map[string]domain.PlanStatus),
		workItems: make(map[string]string),
		incidents: make(map[string]domain.Incident),
		targets:   make(map[string]domain.SLATarget),
	}
}

func targetKey(planID string, severity domain.Severity) string {
	return planID + "/" + string(severity)
}

func (m *memRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, m)
}

func (m *memRepository) NextSequence(_ context.Context, scope, kind string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[scope+"/"+kind]++
	return m.sequences[scope+"/"+kind], nil
}

func (m *memRepository) GetPlanStatus(_ context.Context, planID string) (domain.PlanStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.plans[planID]
	if !ok {
		return "", ErrPlanNotFound
	}
	return status, nil
}

func (m *memRepository) WorkItemInPlan(_ context.Context, planID, workItemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workItems[workItemID] == planID, nil
}

func (m *memRepository) CreateIncident(_ context.Context, inc *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	inc.ID = fmt.Sprintf("inc-%d", m.nextID)
	m.incidents[inc.ID] = *inc
	return nil
}

func (m *memRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return &inc, nil
}

func (m *memRepository) GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	return m.GetIncident(ctx, id)
}

func (m *memRepository) ListIncidents(_ context.Context, filter Filter) ([]*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Incident
	for _, inc := range m.incidents {
		if filter.PlanID != "" && inc.PlanID != filter.PlanID {
			continue
		}
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		if filter.Severity != nil && inc.Severity != *filter.Severity {
			continue
		}
		if filter.ActiveOnly && !inc.Status.IsActive() {
			continue
		}
		if filter.Breached && !inc.IsBreached() {
			continue
		}
		inc := inc
		out = append(out, &inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memRepository) ListActiveIncidentsForUpdate(ctx context.Context, planID string) ([]*domain.Incident, error) {
	return m.ListIncidents(ctx, Filter{PlanID: planID, ActiveOnly: true})
}

func (m *memRepository) UpdateIncident(_ context.Context, inc *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; !ok {
		return ErrIncidentNotFound
	}
	m.incidents[inc.ID] = *inc
	return nil
}

func (m *memRepository) CreateComment(_ context.Context, c *domain.IncidentComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = fmt.Sprintf("comment-%d", m.nextID)
	m.comments = append(m.comments, *c)
	return nil
}

func (m *memRepository) ListComments(_ context.Context, incidentID string) ([]*domain.IncidentComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.IncidentComment
	for _, c := range m.comments {
		if c.IncidentID == incidentID {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memRepository) GetSLATarget(_ context.Context, planID string, severity domain.Severity) (*domain.SLATarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[targetKey(planID, severity)]
	if !ok {
		return nil, ErrSLATargetNotFound
	}
	return &t, nil
}

func (m *memRepository) ListSLATargets(_ context.Context, planID string) ([]*domain.SLATarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SLATarget
	for _, t := range m.targets {
		if t.PlanID == planID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *memRepository) UpsertSLATarget(_ context.Context, t *domain.SLATarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[targetKey(t.PlanID, t.Severity)] = *t
	return nil
}

func (m *memRepository) DeleteSLATarget(_ context.Context, planID string, severity domain.Severity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := targetKey(planID, severity)
	if _, ok := m.targets[key]; !ok {
		return ErrSLATargetNotFound
	}
	delete(m.targets, key)
	return nil
}
