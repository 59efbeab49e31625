package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

type accountRow struct {
	ID             int64               `db:"id"`
	PersonID       int64               `db:"person_id"`
	GroupID        int64               `db:"group_id"`
	Name           string              `db:"name"`
	Balance        decimal.Decimal     `db:"balance"`
	CreditLimit    decimal.NullDecimal `db:"credit_limit"`
	Earned         decimal.Decimal     `db:"earned"`
	Paid           decimal.Decimal     `db:"paid"`
	Reserve        bool                `db:"reserve"`
	ReservePercent decimal.Decimal     `db:"reserve_percent"`
	CreatedAt      int64               `db:"created_at"`
}

func (r accountRow) domain() *domain.Account {
	return &domain.Account{
		ID:             r.ID,
		PersonID:       r.PersonID,
		GroupID:        r.GroupID,
		Name:           r.Name,
		Balance:        r.Balance,
		CreditLimit:    r.CreditLimit,
		Earned:         r.Earned,
		Paid:           r.Paid,
		Reserve:        r.Reserve,
		ReservePercent: r.ReservePercent,
		CreatedAt:      fromMicros(r.CreatedAt),
	}
}

const accountColumns = "id, person_id, group_id, name, balance, credit_limit, earned, paid, reserve, reserve_percent, created_at"

// CreateAccount returns ErrConflict if the person already holds an account in
// the group.
func (q *Queries) CreateAccount(ctx context.Context, a *domain.Account) error {
	a.CreatedAt = q.stamp(a.CreatedAt)
	id, err := q.insert(ctx, `
		INSERT INTO accounts (person_id, group_id, name, balance, credit_limit, earned, paid, reserve, reserve_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.PersonID, a.GroupID, a.Name, a.Balance, a.CreditLimit, a.Earned, a.Paid, a.Reserve, a.ReservePercent, micros(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("account insert failed: %w", err)
	}
	a.ID = id
	return nil
}

func (q *Queries) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	var row accountRow
	if err := q.get(ctx, &row, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id); err != nil {
		return nil, err
	}
	return row.domain(), nil
}

// GetAccount returns the person's account in the group.
func (q *Queries) GetAccount(ctx context.Context, personID, groupID int64) (*domain.Account, error) {
	var row accountRow
	err := q.get(ctx, &row,
		"SELECT "+accountColumns+" FROM accounts WHERE person_id = ? AND group_id = ?",
		personID, groupID,
	)
	if err != nil {
		return nil, err
	}
	return row.domain(), nil
}

// LockAccounts reads and row-locks the accounts of the given people in one
// group. Locks are taken in ascending person id so two exchanges between the
// same pair can never deadlock.
func (q *Queries) LockAccounts(ctx context.Context, groupID int64, personIDs ...int64) (map[int64]*domain.Account, error) {
	ids := slices.Clone(personIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	accounts := make(map[int64]*domain.Account, len(ids))
	for _, personID := range ids {
		var row accountRow
		err := q.get(ctx, &row,
			q.locked("SELECT "+accountColumns+" FROM accounts WHERE person_id = ? AND group_id = ?"),
			personID, groupID,
		)
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed for person %d: %w", personID, err)
		}
		accounts[personID] = row.domain()
	}
	return accounts, nil
}

// SaveBalances persists balance, earned and paid. The new values are
// computed by the caller while holding the row lock.
func (q *Queries) SaveBalances(ctx context.Context, a *domain.Account) error {
	n, err := q.exec(ctx,
		"UPDATE accounts SET balance = ?, earned = ?, paid = ? WHERE id = ?",
		a.Balance, a.Earned, a.Paid, a.ID,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) UpdateReserve(ctx context.Context, accountID int64, reserve bool, percent decimal.Decimal) error {
	n, err := q.exec(ctx,
		"UPDATE accounts SET reserve = ?, reserve_percent = ? WHERE id = ?",
		reserve, percent, accountID,
	)
	if err != nil {
		return fmt.Errorf("reserve update failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReserveAccounts returns the group's reserve accounts ordered by id.
func (q *Queries) ListReserveAccounts(ctx context.Context, groupID int64) ([]*domain.Account, error) {
	return q.listAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE group_id = ? AND reserve = ? ORDER BY id",
		groupID, true,
	)
}

func (q *Queries) ListGroupAccounts(ctx context.Context, groupID int64) ([]*domain.Account, error) {
	return q.listAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE group_id = ? ORDER BY id", groupID)
}

func (q *Queries) listAccounts(ctx context.Context, query string, args ...any) ([]*domain.Account, error) {
	var rows []accountRow
	if err := q.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	accounts := make([]*domain.Account, len(rows))
	for i, r := range rows {
		accounts[i] = r.domain()
	}
	return accounts, nil
}

// SetGroupCreditLimit overwrites the credit limit of every account in the
// group and returns how many were touched.
func (q *Queries) SetGroupCreditLimit(ctx context.Context, groupID int64, limit decimal.NullDecimal) (int64, error) {
	n, err := q.exec(ctx, "UPDATE accounts SET credit_limit = ? WHERE group_id = ?", limit, groupID)
	if err != nil {
		return 0, fmt.Errorf("credit limit update failed: %w", err)
	}
	return n, nil
}
