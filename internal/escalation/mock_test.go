package escalation

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

	nextID int

	plans     map[string]bool
	incidents map[string]domain.Incident
	rules     map[string]domain.EscalationRule
	events    []domain.EscalationEvent
	comments  map[string][]string

	listRulesCalls int
}

func newMemRepository() *memRepository {
	return &memRepository{
		plans:     make(map[string]bool),
		incidents: make(map[string]domain.Incident),
		rules:     make(map[string]domain.EscalationRule),
		comments:  make(map[string][]string),
	}
}

func (m *memRepository) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, m)
}

func (m *memRepository) PlanExists(_ context.Context, planID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[planID], nil
}

func (m *memRepository) ListActiveIncidentIDs(_ context.Context, planID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]domain.Incident, 0)
	for _, inc := range m.incidents {
		if inc.PlanID == planID && inc.Status.IsActive() {
			list = append(list, inc)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	ids := make([]string, 0, len(list))
	for _, inc := range list {
		ids = append(ids, inc.ID)
	}
	return ids, nil
}

func (m *memRepository) GetIncidentForUpdate(_ context.Context, id string) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return &inc, nil
}

func (m *memRepository) UpdateEscalationState(_ context.Context, inc *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.incidents[inc.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	stored.CurrentEscalationLevel = inc.CurrentEscalationLevel
	stored.EscalationCount = inc.EscalationCount
	stored.LastEscalatedAt = inc.LastEscalatedAt
	stored.UpdatedAt = inc.UpdatedAt
	m.incidents[inc.ID] = stored
	return nil
}

func (m *memRepository) AddSystemComment(_ context.Context, incidentID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[incidentID] = append(m.comments[incidentID], body)
	return nil
}

func (m *memRepository) CreateRule(_ context.Context, rule *domain.EscalationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.PlanID == rule.PlanID && r.Severity == rule.Severity &&
			(r.Level == rule.Level || r.LevelOrder == rule.LevelOrder) {
			return ErrDuplicateLevel
		}
	}
	rule.ID = m.id("rule")
	m.rules[rule.ID] = *rule
	return nil
}

func (m *memRepository) GetRule(_ context.Context, id string) (*domain.EscalationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &rule, nil
}

func (m *memRepository) ListRules(_ context.Context, planID string, severity *domain.Severity) ([]*domain.EscalationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listRulesCalls++
	list := make([]*domain.EscalationRule, 0)
	for _, r := range m.rules {
		if r.PlanID != planID || (severity != nil && r.Severity != *severity) {
			continue
		}
		rule := r
		list = append(list, &rule)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Severity != list[j].Severity {
			return list[i].Severity < list[j].Severity
		}
		return list[i].LevelOrder < list[j].LevelOrder
	})
	return list, nil
}

func (m *memRepository) UpdateRule(_ context.Context, rule *domain.EscalationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return ErrRuleNotFound
	}
	for id, r := range m.rules {
		if id != rule.ID && r.PlanID == rule.PlanID && r.Severity == rule.Severity &&
			(r.Level == rule.Level || r.LevelOrder == rule.LevelOrder) {
			return ErrDuplicateLevel
		}
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *memRepository) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *memRepository) CreateEvent(_ context.Context, ev *domain.EscalationEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ev.IsManual {
		for _, e := range m.events {
			if e.IncidentID == ev.IncidentID && e.Level == ev.Level && !e.IsManual {
				return false, nil
			}
		}
	}
	ev.ID = m.id("event")
	m.events = append(m.events, *ev)
	return true, nil
}

func (m *memRepository) GetEventForUpdate(_ context.Context, id string) (*domain.EscalationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			ev := e
			return &ev, nil
		}
	}
	return nil, ErrEventNotFound
}

func (m *memRepository) ListEscalatedLevels(_ context.Context, incidentID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels := make([]int, 0)
	for _, e := range m.events {
		if e.IncidentID == incidentID {
			levels = append(levels, e.Level)
		}
	}
	return levels, nil
}

func (m *memRepository) ListEvents(_ context.Context, incidentID string) ([]*domain.EscalationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*domain.EscalationEvent, 0)
	for _, e := range m.events {
		if e.IncidentID == incidentID {
			ev := e
			list = append(list, &ev)
		}
	}
	return list, nil
}

func (m *memRepository) ListPlanEvents(_ context.Context, planID string) ([]*domain.EscalationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*domain.EscalationEvent, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.incidents[m.events[i].IncidentID].PlanID == planID {
			ev := m.events[i]
			list = append(list, &ev)
		}
	}
	return list, nil
}

func (m *memRepository) AcknowledgeEvent(_ context.Context, ev *domain.EscalationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == ev.ID {
			m.events[i].AcknowledgedAt = ev.AcknowledgedAt
			m.events[i].AcknowledgedBy = ev.AcknowledgedBy
			return nil
		}
	}
	return ErrEventNotFound
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
