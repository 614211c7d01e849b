package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/runbook"
	"github.com/jackc/pgx/v5"
)

const goNoGoColumns = `id, plan_id, title, owner, decision, decided_by, decided_at, created_at`

func scanGoNoGoItem(row pgx.Row) (*domain.GoNoGoItem, error) {
	var it domain.GoNoGoItem
	err := row.Scan(&it.ID, &it.PlanID, &it.Title, &it.Owner, &it.Decision, &it.DecidedBy, &it.DecidedAt, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// CreateGoNoGoItem inserts a readiness checklist item.
func (r *Repository) CreateGoNoGoItem(ctx context.Context, item *domain.GoNoGoItem) error {
	query := `
		INSERT INTO go_no_go_items (plan_id, title, owner, decision, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query, item.PlanID, item.Title, item.Owner, item.Decision, item.CreatedAt).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("create go/no-go item: %w", err)
	}
	return nil
}

// GetGoNoGoItem retrieves a readiness item by ID.
func (r *Repository) GetGoNoGoItem(ctx context.Context, id string) (*domain.GoNoGoItem, error) {
	query := `SELECT ` + goNoGoColumns + ` FROM go_no_go_items WHERE id = $1`
	item, err := scanGoNoGoItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrGoNoGoItemNotFound
		}
		return nil, fmt.Errorf("get go/no-go item: %w", err)
	}
	return item, nil
}

// ListGoNoGoItems returns the plan's readiness items in creation order.
func (r *Repository) ListGoNoGoItems(ctx context.Context, planID string) ([]*domain.GoNoGoItem, error) {
	query := `SELECT ` + goNoGoColumns + ` FROM go_no_go_items WHERE plan_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list go/no-go items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.GoNoGoItem, 0)
	for rows.Next() {
		item, err := scanGoNoGoItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan go/no-go item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate go/no-go items: %w", err)
	}
	return items, nil
}

// UpdateGoNoGoItem writes the decision columns.
func (r *Repository) UpdateGoNoGoItem(ctx context.Context, item *domain.GoNoGoItem) error {
	query := `
		UPDATE go_no_go_items
		SET title = $2, owner = $3, decision = $4, decided_by = $5, decided_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, item.ID, item.Title, item.Owner, item.Decision, item.DecidedBy, item.DecidedAt)
	if err != nil {
		return fmt.Errorf("update go/no-go item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrGoNoGoItemNotFound
	}
	return nil
}

// CountGoNoGoItems counts the plan's readiness items with the given decision.
func (r *Repository) CountGoNoGoItems(ctx context.Context, planID string, decision domain.GoNoGoDecision) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM go_no_go_items WHERE plan_id = $1 AND decision = $2`,
		planID, decision,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count go/no-go items: %w", err)
	}
	return n, nil
}

const signoffColumns = `id, plan_id, approver, status, comment, decided_at, created_at`

func scanSignoff(row pgx.Row) (*domain.HypercareSignoff, error) {
	var s domain.HypercareSignoff
	if err := row.Scan(&s.ID, &s.PlanID, &s.Approver, &s.Status, &s.Comment, &s.DecidedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSignoff inserts a hypercare sign-off request.
func (r *Repository) CreateSignoff(ctx context.Context, signoff *domain.HypercareSignoff) error {
	query := `
		INSERT INTO hypercare_signoffs (plan_id, approver, status, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		signoff.PlanID, signoff.Approver, signoff.Status, signoff.Comment, signoff.CreatedAt,
	).Scan(&signoff.ID)
	if err != nil {
		return fmt.Errorf("create sign-off: %w", err)
	}
	return nil
}

// GetSignoff retrieves a sign-off by ID.
func (r *Repository) GetSignoff(ctx context.Context, id string) (*domain.HypercareSignoff, error) {
	query := `SELECT ` + signoffColumns + ` FROM hypercare_signoffs WHERE id = $1`
	signoff, err := scanSignoff(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbook.ErrSignoffNotFound
		}
		return nil, fmt.Errorf("get sign-off: %w", err)
	}
	return signoff, nil
}

// ListSignoffs returns the plan's sign-offs in creation order.
func (r *Repository) ListSignoffs(ctx context.Context, planID string) ([]*domain.HypercareSignoff, error) {
	query := `SELECT ` + signoffColumns + ` FROM hypercare_signoffs WHERE plan_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("list sign-offs: %w", err)
	}
	defer rows.Close()

	signoffs := make([]*domain.HypercareSignoff, 0)
	for rows.Next() {
		signoff, err := scanSignoff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sign-off: %w", err)
		}
		signoffs = append(signoffs, signoff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sign-offs: %w", err)
	}
	return signoffs, nil
}

// UpdateSignoff writes the decision columns.
func (r *Repository) UpdateSignoff(ctx context.Context, signoff *domain.HypercareSignoff) error {
	query := `UPDATE hypercare_signoffs SET status = $2, comment = $3, decided_at = $4 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, signoff.ID, signoff.Status, signoff.Comment, signoff.DecidedAt)
	if err != nil {
		return fmt.Errorf("update sign-off: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbook.ErrSignoffNotFound
	}
	return nil
}

// CountSignoffs counts the plan's sign-offs in the given status.
func (r *Repository) CountSignoffs(ctx context.Context, planID string, status domain.SignoffStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM hypercare_signoffs WHERE plan_id = $1 AND status = $2`,
		planID, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sign-offs: %w", err)
	}
	return n, nil
}
