// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/incidents"
	pg "github.com/bissquit/cutover-garden/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	db   pg.Querier
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// RunInTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx incidents.Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return pg.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx})
	})
}

// NextSequence returns the next value of the scope/kind counter.
func (r *Repository) NextSequence(ctx context.Context, scope, kind string) (int, error) {
	return pg.NextSequence(ctx, r.db, scope, kind)
}

// GetPlanStatus returns the status of a plan.
func (r *Repository) GetPlanStatus(ctx context.Context, planID string) (domain.PlanStatus, error) {
	var status domain.PlanStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM plans WHERE id = $1`, planID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", incidents.ErrPlanNotFound
		}
		return "", fmt.Errorf("get plan status: %w", err)
	}
	return status, nil
}

// WorkItemInPlan reports whether the work item belongs to the plan.
func (r *Repository) WorkItemInPlan(ctx context.Context, planID, workItemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM work_items WHERE id = $1 AND plan_id = $2)`,
		workItemID, planID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check work item: %w", err)
	}
	return exists, nil
}

const incidentColumns = `
	id, plan_id, code, title, description, severity, status, work_item_id, reported_by,
	created_at, updated_at, last_activity_at, first_response_at,
	resolved_at, resolved_by, resolution, resolution_minutes, closed_at,
	response_deadline, resolution_deadline, response_breached, resolution_breached,
	current_escalation_level, escalation_count, last_escalated_at`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.PlanID,
		&inc.Code,
		&inc.Title,
		&inc.Description,
		&inc.Severity,
		&inc.Status,
		&inc.WorkItemID,
		&inc.ReportedBy,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.LastActivityAt,
		&inc.FirstResponseAt,
		&inc.ResolvedAt,
		&inc.ResolvedBy,
		&inc.Resolution,
		&inc.ResolutionMinutes,
		&inc.ClosedAt,
		&inc.ResponseDeadline,
		&inc.ResolutionDeadline,
		&inc.ResponseBreached,
		&inc.ResolutionBreached,
		&inc.CurrentEscalationLevel,
		&inc.EscalationCount,
		&inc.LastEscalatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func collectIncidents(rows pgx.Rows) ([]*domain.Incident, error) {
	defer rows.Close()

	list := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		list = append(list, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return list, nil
}

// CreateIncident inserts a new incident.
func (r *Repository) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			plan_id, code, title, description, severity, status, work_item_id, reported_by,
			created_at, updated_at, last_activity_at, response_deadline, resolution_deadline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		inc.PlanID,
		inc.Code,
		inc.Title,
		inc.Description,
		inc.Severity,
		inc.Status,
		inc.WorkItemID,
		inc.ReportedBy,
		inc.CreatedAt,
		inc.UpdatedAt,
		inc.LastActivityAt,
		inc.ResponseDeadline,
		inc.ResolutionDeadline,
	).Scan(&inc.ID)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return r.getIncident(ctx, id, "")
}

// GetIncidentForUpdate retrieves an incident and locks its row.
func (r *Repository) GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	return r.getIncident(ctx, id, " FOR UPDATE")
}

func (r *Repository) getIncident(ctx context.Context, id, lock string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1` + lock
	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListIncidents retrieves incidents with optional filters, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter incidents.Filter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.PlanID != "" {
		query += fmt.Sprintf(" AND plan_id = $%d", argNum)
		args = append(args, filter.PlanID)
		argNum++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filter.Severity)
	}
	if filter.ActiveOnly {
		query += " AND status IN ('open', 'investigating')"
	}
	if filter.Breached {
		query += " AND (response_breached OR resolution_breached)"
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return collectIncidents(rows)
}

// ListActiveIncidentsForUpdate locks and returns the plan's open and
// investigating incidents, oldest first.
func (r *Repository) ListActiveIncidentsForUpdate(ctx context.Context, planID string) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE plan_id = $1 AND status IN ('open', 'investigating')
		ORDER BY created_at, id
		FOR UPDATE`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}
	return collectIncidents(rows)
}

// UpdateIncident writes every mutable incident column. Deadlines are immutable.
func (r *Repository) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		UPDATE incidents SET
			title = $2, description = $3, status = $4, work_item_id = $5,
			updated_at = $6, last_activity_at = $7, first_response_at = $8,
			resolved_at = $9, resolved_by = $10, resolution = $11, resolution_minutes = $12,
			closed_at = $13, response_breached = $14, resolution_breached = $15,
			current_escalation_level = $16, escalation_count = $17, last_escalated_at = $18
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		inc.ID,
		inc.Title,
		inc.Description,
		inc.Status,
		inc.WorkItemID,
		inc.UpdatedAt,
		inc.LastActivityAt,
		inc.FirstResponseAt,
		inc.ResolvedAt,
		inc.ResolvedBy,
		inc.Resolution,
		inc.ResolutionMinutes,
		inc.ClosedAt,
		inc.ResponseBreached,
		inc.ResolutionBreached,
		inc.CurrentEscalationLevel,
		inc.EscalationCount,
		inc.LastEscalatedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// CreateComment inserts an audit trail entry.
func (r *Repository) CreateComment(ctx context.Context, comment *domain.IncidentComment) error {
	query := `
		INSERT INTO incident_comments (incident_id, author, body, is_system, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		comment.IncidentID, comment.Author, comment.Body, comment.IsSystem, comment.CreatedAt,
	).Scan(&comment.ID)
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// ListComments returns the incident's comments, oldest first.
func (r *Repository) ListComments(ctx context.Context, incidentID string) ([]*domain.IncidentComment, error) {
	query := `
		SELECT id, incident_id, author, body, is_system, created_at
		FROM incident_comments
		WHERE incident_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]*domain.IncidentComment, 0)
	for rows.Next() {
		var c domain.IncidentComment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.Author, &c.Body, &c.IsSystem, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

// GetSLATarget returns the plan's target for severity.
func (r *Repository) GetSLATarget(ctx context.Context, planID string, severity domain.Severity) (*domain.SLATarget, error) {
	query := `
		SELECT plan_id, severity, response_minutes, resolution_minutes, updated_at
		FROM sla_targets
		WHERE plan_id = $1 AND severity = $2
	`
	var t domain.SLATarget
	err := r.db.QueryRow(ctx, query, planID, severity).Scan(
		&t.PlanID, &t.Severity, &t.ResponseMinutes, &t.ResolutionMinutes, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrSLATargetNotFound
		}
		return nil, fmt.Errorf("get sla target: %w", err)
	}
	return &t, nil
}

// ListSLATargets returns the plan's stored targets.
func (r *Repository) ListSLATargets(ctx context.Context, planID string) ([]*domain.SLATarget, error) {
	query := `
		SELECT plan_id, severity, response_minutes, resolution_minutes, updated_at
		FROM sla_targets
		WHERE plan_id = $1
		ORDER BY severity
	`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list sla targets: %w", err)
	}
	defer rows.Close()

	targets := make([]*domain.SLATarget, 0)
	for rows.Next() {
		var t domain.SLATarget
		if err := rows.Scan(&t.PlanID, &t.Severity, &t.ResponseMinutes, &t.ResolutionMinutes, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sla target: %w", err)
		}
		targets = append(targets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla targets: %w", err)
	}
	return targets, nil
}

// UpsertSLATarget inserts or replaces the plan's target for a severity.
func (r *Repository) UpsertSLATarget(ctx context.Context, t *domain.SLATarget) error {
	query := `
		INSERT INTO sla_targets (plan_id, severity, response_minutes, resolution_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (plan_id, severity) DO UPDATE SET
			response_minutes = EXCLUDED.response_minutes,
			resolution_minutes = EXCLUDED.resolution_minutes,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, t.PlanID, t.Severity, t.ResponseMinutes, t.ResolutionMinutes, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert sla target: %w", err)
	}
	return nil
}

// DeleteSLATarget removes the plan's override for a severity.
func (r *Repository) DeleteSLATarget(ctx context.Context, planID string, severity domain.Severity) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sla_targets WHERE plan_id = $1 AND severity = $2`, planID, severity)
	if err != nil {
		return fmt.Errorf("delete sla target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrSLATargetNotFound
	}
	return nil
}
