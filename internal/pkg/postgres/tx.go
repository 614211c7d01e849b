package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is implemented by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NextSequence atomically increments the counter identified by scope and kind
// and returns the new value. Concurrent callers never observe the same value.
func NextSequence(ctx context.Context, q Querier, scope, kind string) (int, error) {
	query := `
		INSERT INTO sequences (scope_id, kind, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (scope_id, kind) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`
	var value int
	if err := q.QueryRow(ctx, query, scope, kind).Scan(&value); err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", kind, err)
	}
	return value, nil
}

// FormatCode renders a human-readable code such as CUT-0007.
func FormatCode(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}
