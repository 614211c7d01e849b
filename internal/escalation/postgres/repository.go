// Package postgres provides PostgreSQL implementation of escalation repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/escalation"
	pg "github.com/bissquit/cutover-garden/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements escalation.Repository using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	db   pg.Querier
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// RunInTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx escalation.Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return pg.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx})
	})
}

// PlanExists reports whether the plan exists.
func (r *Repository) PlanExists(ctx context.Context, planID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM plans WHERE id = $1)`, planID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check plan: %w", err)
	}
	return exists, nil
}

// ListActiveIncidentIDs returns the plan's open and investigating incidents, oldest first.
func (r *Repository) ListActiveIncidentIDs(ctx context.Context, planID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM incidents
		WHERE plan_id = $1 AND status IN ('open', 'investigating')
		ORDER BY created_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident ids: %w", err)
	}
	return ids, nil
}

// GetIncidentForUpdate loads the fields rule evaluation reads and locks the row.
func (r *Repository) GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	query := `
		SELECT id, plan_id, code, title, severity, status, created_at, updated_at,
		       last_activity_at, first_response_at,
		       current_escalation_level, escalation_count, last_escalated_at
		FROM incidents
		WHERE id = $1
		FOR UPDATE
	`
	var inc domain.Incident
	err := r.db.QueryRow(ctx, query, id).Scan(
		&inc.ID,
		&inc.PlanID,
		&inc.Code,
		&inc.Title,
		&inc.Severity,
		&inc.Status,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.LastActivityAt,
		&inc.FirstResponseAt,
		&inc.CurrentEscalationLevel,
		&inc.EscalationCount,
		&inc.LastEscalatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &inc, nil
}

// UpdateEscalationState writes the incident's escalation counters.
func (r *Repository) UpdateEscalationState(ctx context.Context, inc *domain.Incident) error {
	result, err := r.db.Exec(ctx, `
		UPDATE incidents
		SET current_escalation_level = $2, escalation_count = $3, last_escalated_at = $4, updated_at = $5
		WHERE id = $1
	`, inc.ID, inc.CurrentEscalationLevel, inc.EscalationCount, inc.LastEscalatedAt, inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update escalation state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrIncidentNotFound
	}
	return nil
}

// AddSystemComment appends a system entry to the incident's audit trail.
func (r *Repository) AddSystemComment(ctx context.Context, incidentID, body string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO incident_comments (incident_id, author, body, is_system)
		VALUES ($1, 'system', $2, TRUE)
	`, incidentID, body)
	if err != nil {
		return fmt.Errorf("add system comment: %w", err)
	}
	return nil
}

const ruleColumns = `
	id, plan_id, severity, level, level_order, trigger_type, trigger_after_minutes,
	notify_channel, notify_target, created_at`

func scanRule(row pgx.Row) (*domain.EscalationRule, error) {
	var rule domain.EscalationRule
	err := row.Scan(
		&rule.ID,
		&rule.PlanID,
		&rule.Severity,
		&rule.Level,
		&rule.LevelOrder,
		&rule.TriggerType,
		&rule.TriggerAfterMinutes,
		&rule.NotifyChannel,
		&rule.NotifyTarget,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func ruleWriteError(op string, err error) error {
	if pg.IsUniqueViolation(err, "escalation_rules_level_key") ||
		pg.IsUniqueViolation(err, "escalation_rules_order_key") {
		return escalation.ErrDuplicateLevel
	}
	return fmt.Errorf("%s escalation rule: %w", op, err)
}

// CreateRule inserts a new rule.
func (r *Repository) CreateRule(ctx context.Context, rule *domain.EscalationRule) error {
	query := `
		INSERT INTO escalation_rules (
			plan_id, severity, level, level_order, trigger_type, trigger_after_minutes,
			notify_channel, notify_target, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		rule.PlanID,
		rule.Severity,
		rule.Level,
		rule.LevelOrder,
		rule.TriggerType,
		rule.TriggerAfterMinutes,
		rule.NotifyChannel,
		rule.NotifyTarget,
		rule.CreatedAt,
	).Scan(&rule.ID)
	if err != nil {
		return ruleWriteError("create", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (r *Repository) GetRule(ctx context.Context, id string) (*domain.EscalationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM escalation_rules WHERE id = $1`
	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrRuleNotFound
		}
		return nil, fmt.Errorf("get escalation rule: %w", err)
	}
	return rule, nil
}

// ListRules returns the plan's rules ordered by severity then level order.
func (r *Repository) ListRules(ctx context.Context, planID string, severity *domain.Severity) ([]*domain.EscalationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM escalation_rules WHERE plan_id = $1`
	args := []interface{}{planID}
	if severity != nil {
		query += " AND severity = $2"
		args = append(args, *severity)
	}
	query += " ORDER BY severity, level_order, level"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalation rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*domain.EscalationRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalation rules: %w", err)
	}
	return rules, nil
}

// UpdateRule writes the rule's mutable fields.
func (r *Repository) UpdateRule(ctx context.Context, rule *domain.EscalationRule) error {
	query := `
		UPDATE escalation_rules
		SET severity = $2, level = $3, level_order = $4, trigger_type = $5,
		    trigger_after_minutes = $6, notify_channel = $7, notify_target = $8
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		rule.ID,
		rule.Severity,
		rule.Level,
		rule.LevelOrder,
		rule.TriggerType,
		rule.TriggerAfterMinutes,
		rule.NotifyChannel,
		rule.NotifyTarget,
	)
	if err != nil {
		return ruleWriteError("update", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrRuleNotFound
	}
	return nil
}

// DeleteRule deletes a rule. Its events keep their level with a NULL rule id.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM escalation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete escalation rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrRuleNotFound
	}
	return nil
}

const eventColumns = `
	id, incident_id, rule_id, is_manual, level, trigger_type, target, notes,
	created_by, created_at, acknowledged_at, acknowledged_by`

func scanEvent(row pgx.Row) (*domain.EscalationEvent, error) {
	var ev domain.EscalationEvent
	err := row.Scan(
		&ev.ID,
		&ev.IncidentID,
		&ev.RuleID,
		&ev.IsManual,
		&ev.Level,
		&ev.TriggerType,
		&ev.Target,
		&ev.Notes,
		&ev.CreatedBy,
		&ev.CreatedAt,
		&ev.AcknowledgedAt,
		&ev.AcknowledgedBy,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func collectEvents(rows pgx.Rows) ([]*domain.EscalationEvent, error) {
	defer rows.Close()

	events := make([]*domain.EscalationEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalation events: %w", err)
	}
	return events, nil
}

// CreateEvent inserts the event. A rule-driven event for an already escalated
// level is skipped and reported as false.
func (r *Repository) CreateEvent(ctx context.Context, ev *domain.EscalationEvent) (bool, error) {
	query := `
		INSERT INTO escalation_events (
			incident_id, rule_id, is_manual, level, trigger_type, target, notes, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (incident_id, level) WHERE NOT is_manual DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		ev.IncidentID,
		ev.RuleID,
		ev.IsManual,
		ev.Level,
		ev.TriggerType,
		ev.Target,
		ev.Notes,
		ev.CreatedBy,
		ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("create escalation event: %w", err)
	}
	return true, nil
}

// GetEventForUpdate retrieves an event and locks its row.
func (r *Repository) GetEventForUpdate(ctx context.Context, id string) (*domain.EscalationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM escalation_events WHERE id = $1 FOR UPDATE`
	ev, err := scanEvent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrEventNotFound
		}
		return nil, fmt.Errorf("get escalation event: %w", err)
	}
	return ev, nil
}

// ListEscalatedLevels returns every level with an event for the incident.
func (r *Repository) ListEscalatedLevels(ctx context.Context, incidentID string) ([]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT level FROM escalation_events WHERE incident_id = $1`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list escalated levels: %w", err)
	}
	defer rows.Close()

	levels := make([]int, 0)
	for rows.Next() {
		var level int
		if err := rows.Scan(&level); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate levels: %w", err)
	}
	return levels, nil
}

// ListEvents returns the incident's events, oldest first.
func (r *Repository) ListEvents(ctx context.Context, incidentID string) ([]*domain.EscalationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM escalation_events
		WHERE incident_id = $1 ORDER BY created_at, level`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list escalation events: %w", err)
	}
	return collectEvents(rows)
}

// ListPlanEvents returns the events of every incident of the plan, newest first.
func (r *Repository) ListPlanEvents(ctx context.Context, planID string) ([]*domain.EscalationEvent, error) {
	query := `
		SELECT e.id, e.incident_id, e.rule_id, e.is_manual, e.level, e.trigger_type, e.target, e.notes,
		       e.created_by, e.created_at, e.acknowledged_at, e.acknowledged_by
		FROM escalation_events e
		JOIN incidents i ON i.id = e.incident_id
		WHERE i.plan_id = $1
		ORDER BY e.created_at DESC, e.level DESC
	`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list plan escalation events: %w", err)
	}
	return collectEvents(rows)
}

// AcknowledgeEvent stores the acknowledgment. Already acknowledged rows are
// left untouched.
func (r *Repository) AcknowledgeEvent(ctx context.Context, ev *domain.EscalationEvent) error {
	result, err := r.db.Exec(ctx, `
		UPDATE escalation_events
		SET acknowledged_at = $2, acknowledged_by = $3
		WHERE id = $1 AND acknowledged_at IS NULL
	`, ev.ID, ev.AcknowledgedAt, ev.AcknowledgedBy)
	if err != nil {
		return fmt.Errorf("acknowledge escalation event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escalation.ErrEventNotFound
	}
	return nil
}
