package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Queries runs ledger statements against either the pool or an open
// transaction. Statements are written with '?' placeholders and rebound for
// the driver.
type Queries struct {
	q   sqlx.ExtContext
	d   dialect
	now func() time.Time
}

func (q *Queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.q, dest, q.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return q.d.classify(err)
}

func (q *Queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return q.d.classify(sqlx.SelectContext(ctx, q.q, dest, q.q.Rebind(query), args...))
}

// exec returns the number of affected rows.
func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.q.ExecContext(ctx, q.q.Rebind(query), args...)
	if err != nil {
		return 0, q.d.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, q.d.classify(err)
	}
	return n, nil
}

// insert runs an INSERT and returns the generated id.
func (q *Queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := q.q.QueryRowxContext(ctx, q.q.Rebind(query+" RETURNING id"), args...).Scan(&id)
	if err != nil {
		return 0, q.d.classify(err)
	}
	return id, nil
}

// locked appends the dialect's row lock to a SELECT.
func (q *Queries) locked(query string) string {
	return query + q.d.lockClause
}

func (q *Queries) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return q.now().UTC()
	}
	return t
}

// Timestamps are stored as unix microseconds in both dialects.

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromNullMicros(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMicros(n.Int64)
	return &t
}
