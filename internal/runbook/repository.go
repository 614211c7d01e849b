package runbook

import (
	"context"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// Repository defines storage for plans and their runbooks.
type Repository interface {
	// RunInTx runs fn with a repository bound to a single transaction.
	// Calling RunInTx on a transactional repository reuses the transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	NextSequence(ctx context.Context, scope, kind string) (int, error)

	CreatePlan(ctx context.Context, plan *domain.Plan) error
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	// GetPlanForUpdate locks the plan row until the transaction ends.
	GetPlanForUpdate(ctx context.Context, id string) (*domain.Plan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*domain.Plan, error)
	UpdatePlan(ctx context.Context, plan *domain.Plan) error
	DeletePlan(ctx context.Context, id string) error

	CreateScope(ctx context.Context, scope *domain.Scope) error
	GetScope(ctx context.Context, id string) (*domain.Scope, error)
	ListScopes(ctx context.Context, planID string) ([]*domain.Scope, error)

	CreateWorkItem(ctx context.Context, item *domain.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error)
	GetWorkItemForUpdate(ctx context.Context, id string) (*domain.WorkItem, error)
	ListWorkItems(ctx context.Context, planID string) ([]*domain.WorkItem, error)
	UpdateWorkItem(ctx context.Context, item *domain.WorkItem) error
	DeleteWorkItem(ctx context.Context, id string) error
	// ListPredecessors returns the source items of every edge ending at workItemID.
	ListPredecessors(ctx context.Context, workItemID string) ([]*domain.WorkItem, error)
	// SetCriticalPath flags exactly the given items of the plan as critical.
	SetCriticalPath(ctx context.Context, planID string, workItemIDs []string) error

	CreateDependency(ctx context.Context, dep *domain.Dependency) error
	GetDependency(ctx context.Context, id string) (*domain.Dependency, error)
	ListDependencies(ctx context.Context, planID string) ([]*domain.Dependency, error)
	DeleteDependency(ctx context.Context, id string) error

	CreateRehearsal(ctx context.Context, rehearsal *domain.Rehearsal) error
	GetRehearsal(ctx context.Context, id string) (*domain.Rehearsal, error)
	GetRehearsalForUpdate(ctx context.Context, id string) (*domain.Rehearsal, error)
	ListRehearsals(ctx context.Context, planID string) ([]*domain.Rehearsal, error)
	UpdateRehearsal(ctx context.Context, rehearsal *domain.Rehearsal) error
	CountRehearsals(ctx context.Context, planID string, status domain.RehearsalStatus) (int, error)

	ReadinessRepository
}

// ReadinessRepository stores the go/no-go checklist and hypercare sign-offs
// that gate plan transitions.
type ReadinessRepository interface {
	CreateGoNoGoItem(ctx context.Context, item *domain.GoNoGoItem) error
	GetGoNoGoItem(ctx context.Context, id string) (*domain.GoNoGoItem, error)
	ListGoNoGoItems(ctx context.Context, planID string) ([]*domain.GoNoGoItem, error)
	UpdateGoNoGoItem(ctx context.Context, item *domain.GoNoGoItem) error
	CountGoNoGoItems(ctx context.Context, planID string, decision domain.GoNoGoDecision) (int, error)

	CreateSignoff(ctx context.Context, signoff *domain.HypercareSignoff) error
	GetSignoff(ctx context.Context, id string) (*domain.HypercareSignoff, error)
	ListSignoffs(ctx context.Context, planID string) ([]*domain.HypercareSignoff, error)
	UpdateSignoff(ctx context.Context, signoff *domain.HypercareSignoff) error
	CountSignoffs(ctx context.Context, planID string, status domain.SignoffStatus) (int, error)
}

// PlanFilter holds filter options for listing plans.
type PlanFilter struct {
	Status *domain.PlanStatus
	Limit  int
	Offset int
}

// Sequence kinds.
const (
	sequencePlan      = "plan"
	sequenceWorkItem  = "work_item"
	sequenceRehearsal = "rehearsal"
)

// planSequenceScope is the scope of the global plan counter.
const planSequenceScope = "global"
