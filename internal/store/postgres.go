package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

var postgresDialect = dialect{
	name:       "postgres",
	lockClause: " FOR UPDATE",
	txOptions:  &sql.TxOptions{Isolation: sql.LevelRepeatableRead},
	classify:   classifyPostgres,
}

// OpenPostgres connects a pgx pool, applies migrations and wraps the pool for
// the shared query layer.
func OpenPostgres(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if err := Migrate(stdlib.OpenDB(*config.ConnConfig), postgresDialect); err != nil {
		pool.Close()
		return nil, err
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	return newStore(db, postgresDialect, pool.Close), nil
}

func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			// serialization_failure, deadlock_detected
			return &domain.TransactionAbortError{Err: err}
		case "23505":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return err
}
