// Package postgres provides PostgreSQL implementation of runbook repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cutover-garden/internal/domain"
	pg "github.com/bissquit/cutover-garden/internal/pkg/postgres"
	"github.com/bissquit/cutover-garden/internal/runbook"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements runbook.Repository using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	db   pg.Querier
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// RunInTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx runbook.Repository) error) error {
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

const planColumns = `
	id, code, name, description, status,
	planned_start, planned_end, actual_start, actual_end, rollback_deadline,
	hypercare_weeks, hypercare_start, hypercare_end,
	created_by, created_at, updated_at`

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var p domain.Plan
	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.Name,
		&p.Description,
		&p.Status,
		&p.PlannedStart,
		&p.PlannedEnd,
		&p.ActualStart,
		&p.ActualEnd,
		&p.RollbackDeadline,
		&p.HypercareWeeks,
		&p.HypercareStart,
		&p.HypercareEnd,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlan inserts a new plan.
func (r *Repository) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	query := `
		INSERT INTO plans (
			code, name, description, status,
			planned_start, planned_end, rollback_deadline, hypercare_weeks,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		plan.Code,
		plan.Name,
		plan.Description,
		plan.Status,
		plan.PlannedStart,
		plan.PlannedEnd,
		plan.RollbackDeadline,
		plan.HypercareWeeks,
		plan.CreatedBy,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Scan(&plan.ID)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID.
func (r *Repository) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return r.getPlan(ctx, id, "")
}

// GetPlanForUpdate retrieves a plan and locks its row.
func (r *Repository) GetPlanForUpdate(ctx context.Context, id string) (*domain.Plan, error) {
	return r.getPlan(ctx, id, " FOR UPDATE")
}

func (r *Repository) getPlan(ctx context.Context, id, lock string) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1` + lock
	plan, err := scanPlan(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// ListPlans retrieves plans with optional filters, newest first.
func (r *Repository) ListPlans(ctx context.Context, filter runbook.PlanFilter) ([]*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]*domain.Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// UpdatePlan writes every mutable plan column.
func (r *Repository) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	query := `
		UPDATE plans SET
			name = $2, description = $3, status = $4,
			planned_start = $5, planned_end = $6, actual_start = $7, actual_end = $8,
			rollback_deadline = $9, hypercare_weeks = $10,
			hypercare_start = $11, hypercare_end = $12, updated_at = $13
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		plan.ID,
		plan.Name,
		plan.Description,
		plan.Status,
		plan.PlannedStart,
		plan.PlannedEnd,
		plan.ActualStart,
		plan.ActualEnd,
		plan.RollbackDeadline,
		plan.HypercareWeeks,
		plan.HypercareStart,
		plan.HypercareEnd,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrPlanNotFound
	}
	return nil
}

// DeletePlan deletes a plan; owned rows are removed by cascade.
func (r *Repository) DeletePlan(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrPlanNotFound
	}
	return nil
}

// CreateScope inserts a scope.
func (r *Repository) CreateScope(ctx context.Context, scope *domain.Scope) error {
	query := `
		INSERT INTO scopes (plan_id, name, position, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query, scope.PlanID, scope.Name, scope.Position, scope.CreatedAt).Scan(&scope.ID)
	if err != nil {
		return fmt.Errorf("create scope: %w", err)
	}
	return nil
}

// GetScope retrieves a scope by ID.
func (r *Repository) GetScope(ctx context.Context, id string) (*domain.Scope, error) {
	query := `SELECT id, plan_id, name, position, created_at FROM scopes WHERE id = $1`
	var s domain.Scope
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.PlanID, &s.Name, &s.Position, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrScopeNotFound
		}
		return nil, fmt.Errorf("get scope: %w", err)
	}
	return &s, nil
}

// ListScopes returns the plan's scopes ordered by position.
func (r *Repository) ListScopes(ctx context.Context, planID string) ([]*domain.Scope, error) {
	query := `
		SELECT id, plan_id, name, position, created_at
		FROM scopes
		WHERE plan_id = $1
		ORDER BY position, created_at
	`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	scopes := make([]*domain.Scope, 0)
	for rows.Next() {
		var s domain.Scope
		if err := rows.Scan(&s.ID, &s.PlanID, &s.Name, &s.Position, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}
	return scopes, nil
}

const workItemColumns = `
	w.id, w.plan_id, w.scope_id, w.sequence, w.code, w.title, w.owner,
	w.planned_start, w.planned_end, w.planned_duration_minutes,
	w.actual_start, w.actual_end, w.actual_duration_minutes, w.delay_minutes,
	w.status, w.is_critical_path, w.issue_flag, w.executed_by,
	w.created_at, w.updated_at`

func scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	var w domain.WorkItem
	err := row.Scan(
		&w.ID,
		&w.PlanID,
		&w.ScopeID,
		&w.Sequence,
		&w.Code,
		&w.Title,
		&w.Owner,
		&w.PlannedStart,
		&w.PlannedEnd,
		&w.PlannedDurationMinutes,
		&w.ActualStart,
		&w.ActualEnd,
		&w.ActualDurationMinutes,
		&w.DelayMinutes,
		&w.Status,
		&w.IsCriticalPath,
		&w.IssueFlag,
		&w.ExecutedBy,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func collectWorkItems(rows pgx.Rows) ([]*domain.WorkItem, error) {
	defer rows.Close()
	items := make([]*domain.WorkItem, 0)
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

// CreateWorkItem inserts a work item.
func (r *Repository) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	query := `
		INSERT INTO work_items (
			plan_id, scope_id, sequence, code, title, owner,
			planned_start, planned_end, planned_duration_minutes,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		item.PlanID,
		item.ScopeID,
		item.Sequence,
		item.Code,
		item.Title,
		item.Owner,
		item.PlannedStart,
		item.PlannedEnd,
		item.PlannedDurationMinutes,
		item.Status,
		item.CreatedAt,
		item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("create work item: %w", err)
	}
	return nil
}

// GetWorkItem retrieves a work item by ID.
func (r *Repository) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	return r.getWorkItem(ctx, id, "")
}

// GetWorkItemForUpdate retrieves a work item and locks its row.
func (r *Repository) GetWorkItemForUpdate(ctx context.Context, id string) (*domain.WorkItem, error) {
	return r.getWorkItem(ctx, id, " FOR UPDATE")
}

func (r *Repository) getWorkItem(ctx context.Context, id, lock string) (*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items w WHERE w.id = $1` + lock
	item, err := scanWorkItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// ListWorkItems returns the plan's work items ordered by sequence.
func (r *Repository) ListWorkItems(ctx context.Context, planID string) ([]*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items w WHERE w.plan_id = $1 ORDER BY w.sequence`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return collectWorkItems(rows)
}

// ListPredecessors returns the source items of every edge ending at workItemID.
func (r *Repository) ListPredecessors(ctx context.Context, workItemID string) ([]*domain.WorkItem, error) {
	query := `
		SELECT ` + workItemColumns + `
		FROM dependencies d
		JOIN work_items w ON w.id = d.predecessor_id
		WHERE d.successor_id = $1
		ORDER BY w.sequence
	`
	rows, err := r.db.Query(ctx, query, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list predecessors: %w", err)
	}
	return collectWorkItems(rows)
}

// UpdateWorkItem writes every mutable work item column.
func (r *Repository) UpdateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	query := `
		UPDATE work_items SET
			title = $2, owner = $3,
			planned_start = $4, planned_end = $5, planned_duration_minutes = $6,
			actual_start = $7, actual_end = $8, actual_duration_minutes = $9, delay_minutes = $10,
			status = $11, is_critical_path = $12, issue_flag = $13, executed_by = $14,
			updated_at = $15
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		item.ID,
		item.Title,
		item.Owner,
		item.PlannedStart,
		item.PlannedEnd,
		item.PlannedDurationMinutes,
		item.ActualStart,
		item.ActualEnd,
		item.ActualDurationMinutes,
		item.DelayMinutes,
		item.Status,
		item.IsCriticalPath,
		item.IssueFlag,
		item.ExecutedBy,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrWorkItemNotFound
	}
	return nil
}

// DeleteWorkItem deletes a work item; its edges are removed by cascade.
func (r *Repository) DeleteWorkItem(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM work_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete work item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrWorkItemNotFound
	}
	return nil
}

// SetCriticalPath flags exactly the given items of the plan as critical.
func (r *Repository) SetCriticalPath(ctx context.Context, planID string, workItemIDs []string) error {
	query := `
		UPDATE work_items
		SET is_critical_path = (id::text = ANY($2::text[]))
		WHERE plan_id = $1
	`
	if workItemIDs == nil {
		workItemIDs = []string{}
	}
	if _, err := r.db.Exec(ctx, query, planID, workItemIDs); err != nil {
		return fmt.Errorf("set critical path: %w", err)
	}
	return nil
}

const dependencyColumns = `id, plan_id, predecessor_id, successor_id, type, lag_minutes, created_at`

func scanDependency(row pgx.Row) (*domain.Dependency, error) {
	var d domain.Dependency
	if err := row.Scan(&d.ID, &d.PlanID, &d.PredecessorID, &d.SuccessorID, &d.Type, &d.LagMinutes, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDependency inserts an edge. A concurrent duplicate surfaces as
// runbook.ErrDuplicateDependency.
func (r *Repository) CreateDependency(ctx context.Context, dep *domain.Dependency) error {
	query := `
		INSERT INTO dependencies (plan_id, predecessor_id, successor_id, type, lag_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		dep.PlanID,
		dep.PredecessorID,
		dep.SuccessorID,
		dep.Type,
		dep.LagMinutes,
		dep.CreatedAt,
	).Scan(&dep.ID)
	if err != nil {
		if pg.IsUniqueViolation(err, "dependencies_pair_key") {
			return runbook.ErrDuplicateDependency
		}
		return fmt.Errorf("create dependency: %w", err)
	}
	return nil
}

// GetDependency retrieves an edge by ID.
func (r *Repository) GetDependency(ctx context.Context, id string) (*domain.Dependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM dependencies WHERE id = $1`
	dep, err := scanDependency(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrDependencyNotFound
		}
		return nil, fmt.Errorf("get dependency: %w", err)
	}
	return dep, nil
}

// ListDependencies returns all edges of the plan.
func (r *Repository) ListDependencies(ctx context.Context, planID string) ([]*domain.Dependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM dependencies WHERE plan_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	deps := make([]*domain.Dependency, 0)
	for rows.Next() {
		dep, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return deps, nil
}

// DeleteDependency deletes an edge.
func (r *Repository) DeleteDependency(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dependencies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrDependencyNotFound
	}
	return nil
}

const rehearsalColumns = `
	id, plan_id, number, name, status,
	planned_start, planned_duration_minutes,
	actual_start, actual_end, actual_duration_minutes,
	total_items, completed_items, failed_items, skipped_items,
	variance_percent, revision_needed, created_at, updated_at`

func scanRehearsal(row pgx.Row) (*domain.Rehearsal, error) {
	var rh domain.Rehearsal
	err := row.Scan(
		&rh.ID,
		&rh.PlanID,
		&rh.Number,
		&rh.Name,
		&rh.Status,
		&rh.PlannedStart,
		&rh.PlannedDurationMinutes,
		&rh.ActualStart,
		&rh.ActualEnd,
		&rh.ActualDurationMinutes,
		&rh.TotalItems,
		&rh.CompletedItems,
		&rh.FailedItems,
		&rh.SkippedItems,
		&rh.VariancePercent,
		&rh.RevisionNeeded,
		&rh.CreatedAt,
		&rh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rh, nil
}

// CreateRehearsal inserts a rehearsal.
func (r *Repository) CreateRehearsal(ctx context.Context, rehearsal *domain.Rehearsal) error {
	query := `
		INSERT INTO rehearsals (
			plan_id, number, name, status, planned_start, planned_duration_minutes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		rehearsal.PlanID,
		rehearsal.Number,
		rehearsal.Name,
		rehearsal.Status,
		rehearsal.PlannedStart,
		rehearsal.PlannedDurationMinutes,
		rehearsal.CreatedAt,
		rehearsal.UpdatedAt,
	).Scan(&rehearsal.ID)
	if err != nil {
		return fmt.Errorf("create rehearsal: %w", err)
	}
	return nil
}

// GetRehearsal retrieves a rehearsal by ID.
func (r *Repository) GetRehearsal(ctx context.Context, id string) (*domain.Rehearsal, error) {
	return r.getRehearsal(ctx, id, "")
}

// GetRehearsalForUpdate retrieves a rehearsal and locks its row.
func (r *Repository) GetRehearsalForUpdate(ctx context.Context, id string) (*domain.Rehearsal, error) {
	return r.getRehearsal(ctx, id, " FOR UPDATE")
}

func (r *Repository) getRehearsal(ctx context.Context, id, lock string) (*domain.Rehearsal, error) {
	query := `SELECT ` + rehearsalColumns + ` FROM rehearsals WHERE id = $1` + lock
	rehearsal, err := scanRehearsal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrRehearsalNotFound
		}
		return nil, fmt.Errorf("get rehearsal: %w", err)
	}
	return rehearsal, nil
}

// ListRehearsals returns the plan's rehearsals ordered by number.
func (r *Repository) ListRehearsals(ctx context.Context, planID string) ([]*domain.Rehearsal, error) {
	query := `SELECT ` + rehearsalColumns + ` FROM rehearsals WHERE plan_id = $1 ORDER BY number`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list rehearsals: %w", err)
	}
	defer rows.Close()

	rehearsals := make([]*domain.Rehearsal, 0)
	for rows.Next() {
		rehearsal, err := scanRehearsal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rehearsal: %w", err)
		}
		rehearsals = append(rehearsals, rehearsal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rehearsals: %w", err)
	}
	return rehearsals, nil
}

// UpdateRehearsal writes every mutable rehearsal column.
func (r *Repository) UpdateRehearsal(ctx context.Context, rehearsal *domain.Rehearsal) error {
	query := `
		UPDATE rehearsals SET
			name = $2, status = $3, planned_start = $4, planned_duration_minutes = $5,
			actual_start = $6, actual_end = $7, actual_duration_minutes = $8,
			total_items = $9, completed_items = $10, failed_items = $11, skipped_items = $12,
			variance_percent = $13, revision_needed = $14, updated_at = $15
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		rehearsal.ID,
		rehearsal.Name,
		rehearsal.Status,
		rehearsal.PlannedStart,
		rehearsal.PlannedDurationMinutes,
		rehearsal.ActualStart,
		rehearsal.ActualEnd,
		rehearsal.ActualDurationMinutes,
		rehearsal.TotalItems,
		rehearsal.CompletedItems,
		rehearsal.FailedItems,
		rehearsal.SkippedItems,
		rehearsal.VariancePercent,
		rehearsal.RevisionNeeded,
		rehearsal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update rehearsal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrRehearsalNotFound
	}
	return nil
}

// CountRehearsals counts the plan's rehearsals in the given status.
func (r *Repository) CountRehearsals(ctx context.Context, planID string, status domain.RehearsalStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM rehearsals WHERE plan_id = $1 AND status = $2`,
		planID, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rehearsals: %w", err)
	}
	return n, nil
}
