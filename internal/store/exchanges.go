package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

type exchangeRow struct {
	ID           int64           `db:"id"`
	Kind         string          `db:"kind"`
	CustomerID   int64           `db:"customer_id"`
	WorkerID     int64           `db:"worker_id"`
	GroupID      int64           `db:"group_id"`
	Amount       decimal.Decimal `db:"amount"`
	MetadataType string          `db:"metadata_type"`
	MetadataID   int64           `db:"metadata_id"`
	Notes        string          `db:"notes"`
	WaveAllFees  bool            `db:"wave_all_fees"`
	CreatedAt    int64           `db:"created_at"`
	DeletedAt    sql.NullInt64   `db:"deleted_at"`
}

func (r exchangeRow) domain() *domain.Exchange {
	return &domain.Exchange{
		ID:          r.ID,
		Kind:        domain.ExchangeKind(r.Kind),
		CustomerID:  r.CustomerID,
		WorkerID:    r.WorkerID,
		GroupID:     r.GroupID,
		Amount:      r.Amount,
		Metadata:    domain.Metadata{Kind: domain.MetadataKind(r.MetadataType), ID: r.MetadataID},
		Notes:       r.Notes,
		WaveAllFees: r.WaveAllFees,
		CreatedAt:   fromMicros(r.CreatedAt),
		DeletedAt:   fromNullMicros(r.DeletedAt),
	}
}

const exchangeColumns = "id, kind, customer_id, worker_id, group_id, amount, metadata_type, metadata_id, notes, wave_all_fees, created_at, deleted_at"

func (q *Queries) InsertExchange(ctx context.Context, e *domain.Exchange) error {
	e.CreatedAt = q.stamp(e.CreatedAt)
	id, err := q.insert(ctx, `
		INSERT INTO exchanges (kind, customer_id, worker_id, group_id, amount, metadata_type, metadata_id, notes, wave_all_fees, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.CustomerID, e.WorkerID, e.GroupID, e.Amount,
		string(e.Metadata.Kind), e.Metadata.ID, e.Notes, e.WaveAllFees, micros(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("exchange insert failed: %w", err)
	}
	e.ID = id
	return nil
}

// GetExchange returns the exchange even if it has been soft-deleted.
func (q *Queries) GetExchange(ctx context.Context, id int64) (*domain.Exchange, error) {
	var row exchangeRow
	if err := q.get(ctx, &row, "SELECT "+exchangeColumns+" FROM exchanges WHERE id = ?", id); err != nil {
		return nil, err
	}
	return row.domain(), nil
}

// ListExchanges returns the group's live exchanges, newest first.
func (q *Queries) ListExchanges(ctx context.Context, groupID int64, limit int) ([]*domain.Exchange, error) {
	return q.listExchanges(ctx,
		"SELECT "+exchangeColumns+" FROM exchanges WHERE group_id = ? AND deleted_at IS NULL ORDER BY id DESC LIMIT ?",
		groupID, limit,
	)
}

func (q *Queries) listExchanges(ctx context.Context, query string, args ...any) ([]*domain.Exchange, error) {
	var rows []exchangeRow
	if err := q.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	exchanges := make([]*domain.Exchange, len(rows))
	for i, r := range rows {
		exchanges[i] = r.domain()
	}
	return exchanges, nil
}

// SoftDeleteExchange stamps deleted_at on a live exchange. It returns
// ErrNotFound when the exchange does not exist or was already deleted, which
// keeps a reversal from being applied twice.
func (q *Queries) SoftDeleteExchange(ctx context.Context, id int64, at time.Time) error {
	n, err := q.exec(ctx,
		"UPDATE exchanges SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		micros(at), id,
	)
	if err != nil {
		return fmt.Errorf("exchange delete failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkFee records that fee was charged because of base.
func (q *Queries) LinkFee(ctx context.Context, baseID, feeID int64) error {
	_, err := q.exec(ctx,
		"INSERT INTO fee_links (base_exchange_id, fee_exchange_id) VALUES (?, ?)", baseID, feeID)
	if err != nil {
		return fmt.Errorf("fee link failed: %w", err)
	}
	return nil
}

// ListFeeExchanges returns the live fee exchanges charged on base, in
// creation order.
func (q *Queries) ListFeeExchanges(ctx context.Context, baseID int64) ([]*domain.Exchange, error) {
	return q.listExchanges(ctx, `
		SELECT e.id, e.kind, e.customer_id, e.worker_id, e.group_id, e.amount, e.metadata_type, e.metadata_id,
		       e.notes, e.wave_all_fees, e.created_at, e.deleted_at
		FROM exchanges e
		JOIN fee_links l ON l.fee_exchange_id = e.id
		WHERE l.base_exchange_id = ? AND e.deleted_at IS NULL
		ORDER BY e.id`,
		baseID,
	)
}

type entryRow struct {
	ID         int64           `db:"id"`
	ExchangeID int64           `db:"exchange_id"`
	AccountID  int64           `db:"account_id"`
	Delta      decimal.Decimal `db:"delta"`
	CreatedAt  int64           `db:"created_at"`
}

// InsertEntries writes the ledger legs of one exchange and fills their ids.
func (q *Queries) InsertEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	for i := range entries {
		e := &entries[i]
		e.CreatedAt = q.stamp(e.CreatedAt)
		id, err := q.insert(ctx,
			"INSERT INTO ledger_entries (exchange_id, account_id, delta, created_at) VALUES (?, ?, ?, ?)",
			e.ExchangeID, e.AccountID, e.Delta, micros(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("ledger entry failed: %w", err)
		}
		e.ID = id
	}
	return nil
}

func (q *Queries) ListExchangeEntries(ctx context.Context, exchangeID int64) ([]domain.LedgerEntry, error) {
	return q.listEntries(ctx,
		"SELECT id, exchange_id, account_id, delta, created_at FROM ledger_entries WHERE exchange_id = ? ORDER BY id",
		exchangeID)
}

// ListAccountEntries returns an account's ledger legs, newest first.
func (q *Queries) ListAccountEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	return q.listEntries(ctx,
		"SELECT id, exchange_id, account_id, delta, created_at FROM ledger_entries WHERE account_id = ? ORDER BY id DESC",
		accountID)
}

func (q *Queries) listEntries(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	var rows []entryRow
	if err := q.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	entries := make([]domain.LedgerEntry, len(rows))
	for i, r := range rows {
		entries[i] = domain.LedgerEntry{
			ID:         r.ID,
			ExchangeID: r.ExchangeID,
			AccountID:  r.AccountID,
			Delta:      r.Delta,
			CreatedAt:  fromMicros(r.CreatedAt),
		}
	}
	return entries, nil
}

// SumGroupBalances totals every balance in the group. A ledger in a
// consistent state always sums to zero.
func (q *Queries) SumGroupBalances(ctx context.Context, groupID int64) (decimal.Decimal, error) {
	accounts, err := q.ListGroupAccounts(ctx, groupID)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, a := range accounts {
		sum = sum.Add(a.Balance)
	}
	return sum, nil
}
