package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newStore(sqlx.NewDb(db, "sqlmock"), postgresDialect), mock
}

var accountCols = []string{"id", "person_id", "group_id", "name", "balance", "credit_limit", "earned", "paid", "reserve", "reserve_percent", "created_at"}

func TestClassifyPostgres(t *testing.T) {
	abort := classifyPostgres(&pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, abort, domain.ErrTransactionAborted)

	deadlock := classifyPostgres(&pgconn.PgError{Code: "40P01"})
	assert.ErrorIs(t, deadlock, domain.ErrTransactionAborted)

	dup := classifyPostgres(&pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, dup, ErrConflict)

	other := errors.New("connection reset")
	assert.Equal(t, other, classifyPostgres(other))
	assert.NoError(t, classifyPostgres(nil))
}

func TestInTxRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = ?, earned = ?, paid = ? WHERE id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := st.InTx(context.Background(), func(q *Queries) error {
		if err := q.SaveBalances(context.Background(), &domain.Account{ID: 1}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializationFailureAborts(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE person_id = ? AND group_id = ? FOR UPDATE")).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := st.InTx(context.Background(), func(q *Queries) error {
		_, err := q.LockAccounts(context.Background(), 1, 2)
		return err
	})

	var abort *domain.TransactionAbortError
	assert.ErrorAs(t, err, &abort)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureAborts(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	err := st.InTx(context.Background(), func(q *Queries) error { return nil })

	assert.ErrorIs(t, err, domain.ErrTransactionAborted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAccountsInAscendingOrder(t *testing.T) {
	st, mock := newMockStore(t)
	lockQuery := regexp.QuoteMeta("FOR UPDATE")

	mock.ExpectBegin()
	for _, person := range []int64{3, 8} {
		mock.ExpectQuery(lockQuery).
			WithArgs(person, int64(5)).
			WillReturnRows(sqlmock.NewRows(accountCols).
				AddRow(person*10, person, 5, "Riverside", "1.5", nil, "0", "0", false, "0", 0))
	}
	mock.ExpectCommit()

	var locked map[int64]*domain.Account
	err := st.InTx(context.Background(), func(q *Queries) error {
		var err error
		locked, err = q.LockAccounts(context.Background(), 5, 8, 3, 8)
		return err
	})

	require.NoError(t, err)
	require.Len(t, locked, 2)
	assert.EqualValues(t, 80, locked[8].ID)
	assert.False(t, locked[3].CreditLimit.Valid)
	assert.True(t, locked[3].Balance.Equal(dec("1.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationConflicts(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO memberships")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := st.CreateMembership(context.Background(), &domain.Membership{PersonID: 1, GroupID: 1})

	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
