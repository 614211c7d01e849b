package runbook

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/google/uuid"
)

// memRepository implements Repository in memory for testing.
// Getters return copies so failed operations leave stored state untouched.
type memRepository struct {
	mu sync.Mutex

	nextID    int
	sequences map[string]int

	plans      map[string]domain.Plan
	scopes     map[string]domain.Scope
	items      map[string]domain.WorkItem
	deps       map[string]domain.Dependency
	rehearsals map[string]domain.Rehearsal
	goNoGo     map[string]domain.GoNoGoItem
	signoffs   map[string]domain.HypercareSignoff

	txCalls int
}

func newMemRepository() *memRepository {
	return &memRepository{
		sequences:  make(map[string]int),
		plans:      make(map[string]domain.Plan),
		scopes:     make(map[string]domain.Scope),
		items:      make(map[string]domain.WorkItem),
		deps:       make(map[string]domain.Dependency),
		rehearsals: make(map[string]domain.Rehearsal),
		goNoGo:     make(map[string]domain.GoNoGoItem),
		signoffs:   make(map[string]domain.HypercareSignoff),
	}
}

func (m *memRepository) id(prefix string) string {
	m.nextID++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", prefix, m.nextID))).String()
}

func (m *memRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memRepository) NextSequence(_ context.Context, scope, kind string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[scope+"/"+kind]++
	return m.sequences[scope+"/"+kind], nil
}

func (m *memRepository) CreatePlan(_ context.Context, plan *domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.ID = m.id("plan")
	m.plans[plan.ID] = *plan
	return nil
}

func (m *memRepository) GetPlan(_ context.Context, id string) (*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

func (m *memRepository) GetPlanForUpdate(ctx context.Context, id string) (*domain.Plan, error) {
	return m.GetPlan(ctx, id)
}

func (m *memRepository) ListPlans(_ context.Context, filter PlanFilter) ([]*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Plan
	for _, p := range m.plans {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memRepository) UpdatePlan(_ context.Context, plan *domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; !ok {
		return ErrPlanNotFound
	}
	m.plans[plan.ID] = *plan
	return nil
}

func (m *memRepository) DeletePlan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return ErrPlanNotFound
	}
	delete(m.plans, id)
	return nil
}

func (m *memRepository) CreateScope(_ context.Context, scope *domain.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope.ID = m.id("scope")
	m.scopes[scope.ID] = *scope
	return nil
}

func (m *memRepository) GetScope(_ context.Context, id string) (*domain.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scopes[id]
	if !ok {
		return nil, ErrScopeNotFound
	}
	return &s, nil
}

func (m *memRepository) ListScopes(_ context.Context, planID string) ([]*domain.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Scope
	for _, s := range m.scopes {
		if s.PlanID == planID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memRepository) CreateWorkItem(_ context.Context, item *domain.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id("wi")
	m.items[item.ID] = *item
	return nil
}

func (m *memRepository) GetWorkItem(_ context.Context, id string) (*domain.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, ErrWorkItemNotFound
	}
	return &it, nil
}

func (m *memRepository) GetWorkItemForUpdate(ctx context.Context, id string) (*domain.WorkItem, error) {
	return m.GetWorkItem(ctx, id)
}

func (m *memRepository) ListWorkItems(_ context.Context, planID string) ([]*domain.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.WorkItem
	for _, it := range m.items {
		if it.PlanID == planID {
			it := it
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memRepository) UpdateWorkItem(_ context.Context, item *domain.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return ErrWorkItemNotFound
	}
	m.items[item.ID] = *item
	return nil
}

func (m *memRepository) DeleteWorkItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrWorkItemNotFound
	}
	delete(m.items, id)
	for depID, d := range m.deps {
		if d.PredecessorID == id || d.SuccessorID == id {
			delete(m.deps, depID)
		}
	}
	return nil
}

func (m *memRepository) ListPredecessors(_ context.Context, workItemID string) ([]*domain.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.WorkItem
	for _, d := range m.deps {
		if d.SuccessorID == workItemID {
			it := m.items[d.PredecessorID]
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memRepository) SetCriticalPath(_ context.Context, planID string, workItemIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	onPath := make(map[string]bool, len(workItemIDs))
	for _, id := range workItemIDs {
		onPath[id] = true
	}
	for id, it := range m.items {
		if it.PlanID == planID {
			it.IsCriticalPath = onPath[id]
			m.items[id] = it
		}
	}
	return nil
}

func (m *memRepository) CreateDependency(_ context.Context, dep *domain.Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deps {
		if d.PredecessorID == dep.PredecessorID && d.SuccessorID == dep.SuccessorID {
			return ErrDuplicateDependency
		}
	}
	dep.ID = m.id("dep")
	m.deps[dep.ID] = *dep
	return nil
}

func (m *memRepository) GetDependency(_ context.Context, id string) (*domain.Dependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[id]
	if !ok {
		return nil, ErrDependencyNotFound
	}
	return &d, nil
}

func (m *memRepository) ListDependencies(_ context.Context, planID string) ([]*domain.Dependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Dependency
	for _, d := range m.deps {
		if d.PlanID == planID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepository) DeleteDependency(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deps[id]; !ok {
		return ErrDependencyNotFound
	}
	delete(m.deps, id)
	return nil
}

func (m *memRepository) CreateRehearsal(_ context.Context, rehearsal *domain.Rehearsal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rehearsal.ID = m.id("rehearsal")
	m.rehearsals[rehearsal.ID] = *rehearsal
	return nil
}

func (m *memRepository) GetRehearsal(_ context.Context, id string) (*domain.Rehearsal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rh, ok := m.rehearsals[id]
	if !ok {
		return nil, ErrRehearsalNotFound
	}
	return &rh, nil
}

func (m *memRepository) GetRehearsalForUpdate(ctx context.Context, id string) (*domain.Rehearsal, error) {
	return m.GetRehearsal(ctx, id)
}

func (m *memRepository) ListRehearsals(_ context.Context, planID string) ([]*domain.Rehearsal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Rehearsal
	for _, rh := range m.rehearsals {
		if rh.PlanID == planID {
			rh := rh
			out = append(out, &rh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *memRepository) UpdateRehearsal(_ context.Context, rehearsal *domain.Rehearsal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rehearsals[rehearsal.ID]; !ok {
		return ErrRehearsalNotFound
	}
	m.rehearsals[rehearsal.ID] = *rehearsal
	return nil
}

func (m *memRepository) CountRehearsals(_ context.Context, planID string, status domain.RehearsalStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rh := range m.rehearsals {
		if rh.PlanID == planID && rh.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memRepository) CreateGoNoGoItem(_ context.Context, item *domain.GoNoGoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id("gng")
	m.goNoGo[item.ID] = *item
	return nil
}

func (m *memRepository) GetGoNoGoItem(_ context.Context, id string) (*domain.GoNoGoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.goNoGo[id]
	if !ok {
		return nil, ErrGoNoGoItemNotFound
	}
	return &it, nil
}

func (m *memRepository) ListGoNoGoItems(_ context.Context, planID string) ([]*domain.GoNoGoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GoNoGoItem
	for _, it := range m.goNoGo {
		if it.PlanID == planID {
			it := it
			out = append(out, &it)
		}
	}
	return out, nil
}

func (m *memRepository) UpdateGoNoGoItem(_ context.Context, item *domain.GoNoGoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goNoGo[item.ID] = *item
	return nil
}

func (m *memRepository) CountGoNoGoItems(_ context.Context, planID string, decision domain.GoNoGoDecision) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.goNoGo {
		if it.PlanID == planID && it.Decision == decision {
			n++
		}
	}
	return n, nil
}

func (m *memRepository) CreateSignoff(_ context.Context, signoff *domain.HypercareSignoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	signoff.ID = m.id("signoff")
	m.signoffs[signoff.ID] = *signoff
	return nil
}

func (m *memRepository) GetSignoff(_ context.Context, id string) (*domain.HypercareSignoff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signoffs[id]
	if !ok {
		return nil, ErrSignoffNotFound
	}
	return &s, nil
}

func (m *memRepository) ListSignoffs(_ context.Context, planID string) ([]*domain.HypercareSignoff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.HypercareSignoff
	for _, s := range m.signoffs {
		if s.PlanID == planID {
			s := s
			out = append(out, &s)
		}
	}
	return out, nil
}

func (m *memRepository) UpdateSignoff(_ context.Context, signoff *domain.HypercareSignoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signoffs[signoff.ID] = *signoff
	return nil
}

func (m *memRepository) CountSignoffs(_ context.Context, planID string, status domain.SignoffStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.signoffs {
		if s.PlanID == planID && s.Status == status {
			n++
		}
	}
	return n, nil
}
