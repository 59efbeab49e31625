// Package store persists the ledger in PostgreSQL or SQLite. Both dialects
// share one set of queries; they differ in row locking, isolation level and
// error classification.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// dialect captures what differs between the two backends.
type dialect struct {
	name string
	// lockClause is appended to row reads that must serialize writers.
	lockClause string
	txOptions  *sql.TxOptions
	// classify maps driver errors onto ErrConflict and TransactionAbortError.
	classify func(error) error
}

// Store is the ledger's persistence handle. Its embedded Queries run outside
// any transaction; InTx hands out Queries bound to one.
type Store struct {
	*Queries
	db      *sqlx.DB
	dialect dialect
	closers []func()
}

func newStore(db *sqlx.DB, d dialect, closers ...func()) *Store {
	return &Store{
		Queries: &Queries{q: db, d: d, now: time.Now},
		db:      db,
		dialect: d,
		closers: closers,
	}
}

// Dialect names the backend ("postgres" or "sqlite").
func (s *Store) Dialect() string { return s.dialect.name }

// InTx runs fn inside one database transaction and commits if fn returns nil.
// Any error rolls the whole unit back.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, s.dialect.txOptions)
	if err != nil {
		return s.dialect.classify(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx, d: s.dialect, now: s.Queries.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.dialect.classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	for _, c := range s.closers {
		c()
	}
	return err
}
