package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

type offerRow struct {
	ID             int64           `db:"id"`
	PersonID       int64           `db:"person_id"`
	GroupID        int64           `db:"group_id"`
	Name           string          `db:"name"`
	Price          decimal.Decimal `db:"price"`
	AvailableCount int             `db:"available_count"`
	CreatedAt      int64           `db:"created_at"`
}

func (r offerRow) domain() *domain.Offer {
	return &domain.Offer{
		ID:             r.ID,
		PersonID:       r.PersonID,
		GroupID:        r.GroupID,
		Name:           r.Name,
		Price:          r.Price,
		AvailableCount: r.AvailableCount,
		CreatedAt:      fromMicros(r.CreatedAt),
	}
}

const offerColumns = "id, person_id, group_id, name, price, available_count, created_at"

func (q *Queries) CreateOffer(ctx context.Context, o *domain.Offer) error {
	o.CreatedAt = q.stamp(o.CreatedAt)
	id, err := q.insert(ctx,
		"INSERT INTO offers (person_id, group_id, name, price, available_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		o.PersonID, o.GroupID, o.Name, o.Price, o.AvailableCount, micros(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("offer insert failed: %w", err)
	}
	o.ID = id
	return nil
}

func (q *Queries) GetOffer(ctx context.Context, id int64) (*domain.Offer, error) {
	var row offerRow
	if err := q.get(ctx, &row, "SELECT "+offerColumns+" FROM offers WHERE id = ?", id); err != nil {
		return nil, err
	}
	return row.domain(), nil
}

// LockOffer reads the offer holding its row lock so concurrent purchases
// see each other's decrements.
func (q *Queries) LockOffer(ctx context.Context, id int64) (*domain.Offer, error) {
	var row offerRow
	if err := q.get(ctx, &row, q.locked("SELECT "+offerColumns+" FROM offers WHERE id = ?"), id); err != nil {
		return nil, err
	}
	return row.domain(), nil
}

// DecrementOffer reduces available_count by n. It fails with ErrConflict
// rather than letting the count go negative.
func (q *Queries) DecrementOffer(ctx context.Context, id int64, n int) error {
	affected, err := q.exec(ctx,
		"UPDATE offers SET available_count = available_count - ? WHERE id = ? AND available_count >= ?",
		n, id, n,
	)
	if err != nil {
		return fmt.Errorf("offer decrement failed: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: offer %d has fewer than %d available", ErrConflict, id, n)
	}
	return nil
}

type requestRow struct {
	ID             int64           `db:"id"`
	PersonID       int64           `db:"person_id"`
	GroupID        int64           `db:"group_id"`
	Name           string          `db:"name"`
	EstimatedHours decimal.Decimal `db:"estimated_hours"`
	DueDate        int64           `db:"due_date"`
	Biddable       bool            `db:"biddable"`
	CreatedAt      int64           `db:"created_at"`
}

func (r requestRow) domain() *domain.Request {
	return &domain.Request{
		ID:             r.ID,
		PersonID:       r.PersonID,
		GroupID:        r.GroupID,
		Name:           r.Name,
		EstimatedHours: r.EstimatedHours,
		DueDate:        fromMicros(r.DueDate),
		Biddable:       r.Biddable,
		CreatedAt:      fromMicros(r.CreatedAt),
	}
}

const requestColumns = "id, person_id, group_id, name, estimated_hours, due_date, biddable, created_at"

func (q *Queries) CreateRequest(ctx context.Context, r *domain.Request) error {
	r.CreatedAt = q.stamp(r.CreatedAt)
	if r.DueDate.IsZero() {
		r.DueDate = r.CreatedAt
	}
	id, err := q.insert(ctx, `
		INSERT INTO requests (person_id, group_id, name, estimated_hours, due_date, biddable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.PersonID, r.GroupID, r.Name, r.EstimatedHours, micros(r.DueDate), r.Biddable, micros(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("request insert failed: %w", err)
	}
	r.ID = id
	return nil
}

func (q *Queries) GetRequest(ctx context.Context, id int64) (*domain.Request, error) {
	var row requestRow
	if err := q.get(ctx, &row, "SELECT "+requestColumns+" FROM requests WHERE id = ?", id); err != nil {
		return nil, err
	}
	return row.domain(), nil
}

func (q *Queries) DeleteRequest(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "DELETE FROM requests WHERE id = ?", id); err != nil {
		return fmt.Errorf("request delete failed: %w", err)
	}
	return nil
}

type feeRow struct {
	ID          int64           `db:"id"`
	PlanID      int64           `db:"fee_plan_id"`
	Kind        string          `db:"kind"`
	Amount      decimal.Decimal `db:"amount"`
	Percent     decimal.Decimal `db:"percent"`
	Interval    string          `db:"fee_interval"`
	RecipientID sql.NullInt64   `db:"recipient_id"`
	CreatedAt   int64           `db:"created_at"`
}

type feePlanRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Available   bool   `db:"available"`
	CreatedAt   int64  `db:"created_at"`
}

// CreateFeePlan inserts the plan and its fees.
func (q *Queries) CreateFeePlan(ctx context.Context, p *domain.FeePlan) error {
	p.CreatedAt = q.stamp(p.CreatedAt)
	id, err := q.insert(ctx,
		"INSERT INTO fee_plans (name, description, available, created_at) VALUES (?, ?, ?, ?)",
		p.Name, p.Description, p.Available, micros(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("fee plan insert failed: %w", err)
	}
	p.ID = id

	for i := range p.Fees {
		f := &p.Fees[i]
		f.PlanID = p.ID
		f.CreatedAt = q.stamp(f.CreatedAt)
		id, err := q.insert(ctx, `
			INSERT INTO fees (fee_plan_id, kind, amount, percent, fee_interval, recipient_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.PlanID, string(f.Kind), f.Amount, f.Percent, string(f.Interval), ownerID(f.RecipientID), micros(f.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("fee insert failed: %w", err)
		}
		f.ID = id
	}
	return nil
}

// GetFeePlan loads the plan with its fees in creation order.
func (q *Queries) GetFeePlan(ctx context.Context, id int64) (*domain.FeePlan, error) {
	var row feePlanRow
	err := q.get(ctx, &row, "SELECT id, name, description, available, created_at FROM fee_plans WHERE id = ?", id)
	if err != nil {
		return nil, err
	}

	var fees []feeRow
	err = q.selectAll(ctx, &fees, `
		SELECT id, fee_plan_id, kind, amount, percent, fee_interval, recipient_id, created_at
		FROM fees WHERE fee_plan_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}

	plan := &domain.FeePlan{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Available:   row.Available,
		CreatedAt:   fromMicros(row.CreatedAt),
		Fees:        make([]domain.Fee, len(fees)),
	}
	for i, f := range fees {
		plan.Fees[i] = domain.Fee{
			ID:          f.ID,
			PlanID:      f.PlanID,
			Kind:        domain.FeeKind(f.Kind),
			Amount:      f.Amount,
			Percent:     f.Percent,
			Interval:    domain.FeeInterval(f.Interval),
			RecipientID: f.RecipientID.Int64,
			CreatedAt:   fromMicros(f.CreatedAt),
		}
	}
	return plan, nil
}

type capabilityRow struct {
	ID            int64               `db:"id"`
	PersonID      int64               `db:"person_id"`
	Action        string              `db:"action"`
	Asset         string              `db:"asset"`
	AmountCeiling decimal.NullDecimal `db:"amount_ceiling"`
	InvalidatedAt sql.NullInt64       `db:"invalidated_at"`
	CreatedAt     int64               `db:"created_at"`
}

const capabilityColumns = "id, person_id, action, asset, amount_ceiling, invalidated_at, created_at"

func (q *Queries) CreateCapability(ctx context.Context, c *domain.Capability) error {
	c.CreatedAt = q.stamp(c.CreatedAt)
	id, err := q.insert(ctx,
		"INSERT INTO capabilities (person_id, action, asset, amount_ceiling, invalidated_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		c.PersonID, string(c.Action), c.Asset, c.AmountCeiling, nullMicros(c.InvalidatedAt), micros(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("capability insert failed: %w", err)
	}
	c.ID = id
	return nil
}

func (q *Queries) GetCapability(ctx context.Context, id int64) (*domain.Capability, error) {
	var row capabilityRow
	if err := q.get(ctx, &row, "SELECT "+capabilityColumns+" FROM capabilities WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &domain.Capability{
		ID:            row.ID,
		PersonID:      row.PersonID,
		Action:        domain.CapabilityAction(row.Action),
		Asset:         row.Asset,
		AmountCeiling: row.AmountCeiling,
		InvalidatedAt: fromNullMicros(row.InvalidatedAt),
		CreatedAt:     fromMicros(row.CreatedAt),
	}, nil
}

// InvalidateCapability burns a capability. It returns ErrConflict if the
// capability was already invalidated by a concurrent payment.
func (q *Queries) InvalidateCapability(ctx context.Context, id int64, at time.Time) error {
	n, err := q.exec(ctx,
		"UPDATE capabilities SET invalidated_at = ? WHERE id = ? AND invalidated_at IS NULL",
		micros(at), id,
	)
	if err != nil {
		return fmt.Errorf("capability invalidation failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: capability %d already invalidated", ErrConflict, id)
	}
	return nil
}
