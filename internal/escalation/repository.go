package escalation

import (
	"context"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// Repository defines storage for escalation rules and events.
type Repository interface {
	// RunInTx runs fn with a repository bound to a single transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	PlanExists(ctx context.Context, planID string) (bool, error)

	// ListActiveIncidentIDs returns the plan's open and investigating incidents, oldest first.
	ListActiveIncidentIDs(ctx context.Context, planID string) ([]string, error)
	GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error)
	// UpdateEscalationState writes the incident's escalation counters only.
	UpdateEscalationState(ctx context.Context, incident *domain.Incident) error
	AddSystemComment(ctx context.Context, incidentID, body string) error

	CreateRule(ctx context.Context, rule *domain.EscalationRule) error
	GetRule(ctx context.Context, id string) (*domain.EscalationRule, error)
	// ListRules returns rules ordered by severity then level order.
	// A nil severity lists every severity.
	ListRules(ctx context.Context, planID string, severity *domain.Severity) ([]*domain.EscalationRule, error)
	UpdateRule(ctx context.Context, rule *domain.EscalationRule) error
	DeleteRule(ctx context.Context, id string) error

	// CreateEvent inserts the event. It returns false without error when a
	// rule-driven event already exists for the incident and level.
	CreateEvent(ctx context.Context, event *domain.EscalationEvent) (bool, error)
	GetEventForUpdate(ctx context.Context, id string) (*domain.EscalationEvent, error)
	// ListEscalatedLevels returns every level with an event for the incident.
	ListEscalatedLevels(ctx context.Context, incidentID string) ([]int, error)
	ListEvents(ctx context.Context, incidentID string) ([]*domain.EscalationEvent, error)
	// ListPlanEvents returns the events of every incident of the plan, newest first.
	ListPlanEvents(ctx context.Context, planID string) ([]*domain.EscalationEvent, error)
	AcknowledgeEvent(ctx context.Context, event *domain.EscalationEvent) error
}
