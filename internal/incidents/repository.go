package incidents

import (
	"context"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// Repository defines storage for incidents, their comments and SLA targets.
type Repository interface {
	// RunInTx runs fn with a repository bound to a single transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	NextSequence(ctx context.Context, scope, kind string) (int, error)

	// GetPlanStatus returns ErrPlanNotFound for unknown plans.
	GetPlanStatus(ctx context.Context, planID string) (domain.PlanStatus, error)
	// WorkItemInPlan reports whether the work item exists and belongs to the plan.
	WorkItemInPlan(ctx context.Context, planID, workItemID string) (bool, error)

	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filter Filter) ([]*domain.Incident, error)
	// ListActiveIncidentsForUpdate locks the plan's open and investigating incidents.
	ListActiveIncidentsForUpdate(ctx context.Context, planID string) ([]*domain.Incident, error)
	UpdateIncident(ctx context.Context, incident *domain.Incident) error

	CreateComment(ctx context.Context, comment *domain.IncidentComment) error
	ListComments(ctx context.Context, incidentID string) ([]*domain.IncidentComment, error)

	GetSLATarget(ctx context.Context, planID string, severity domain.Severity) (*domain.SLATarget, error)
	ListSLATargets(ctx context.Context, planID string) ([]*domain.SLATarget, error)
	UpsertSLATarget(ctx context.Context, target *domain.SLATarget) error
	DeleteSLATarget(ctx context.Context, planID string, severity domain.Severity) error
}

// Filter holds filter options for listing incidents.
type Filter struct {
	PlanID     string
	Status     *domain.IncidentStatus
	Severity   *domain.Severity
	ActiveOnly bool
	Breached   bool
}

const sequenceIncident = "incident"
