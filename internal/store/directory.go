package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
)

type personRow struct {
	ID           int64         `db:"id"`
	Name         string        `db:"name"`
	BusinessName string        `db:"business_name"`
	Deactivated  bool          `db:"deactivated"`
	FeePlanID    sql.NullInt64 `db:"fee_plan_id"`
	CreatedAt    int64         `db:"created_at"`
}

func (r personRow) domain() domain.Person {
	p := domain.Person{
		ID:           r.ID,
		Name:         r.Name,
		BusinessName: r.BusinessName,
		Deactivated:  r.Deactivated,
		CreatedAt:    fromMicros(r.CreatedAt),
	}
	if r.FeePlanID.Valid {
		id := r.FeePlanID.Int64
		p.FeePlanID = &id
	}
	return p
}

const personColumns = "id, name, business_name, deactivated, fee_plan_id, created_at"

func (q *Queries) CreatePerson(ctx context.Context, p *domain.Person) error {
	p.CreatedAt = q.stamp(p.CreatedAt)
	var feePlan sql.NullInt64
	if p.FeePlanID != nil {
		feePlan = sql.NullInt64{Int64: *p.FeePlanID, Valid: true}
	}
	id, err := q.insert(ctx,
		"INSERT INTO people (name, business_name, deactivated, fee_plan_id, created_at) VALUES (?, ?, ?, ?, ?)",
		p.Name, p.BusinessName, p.Deactivated, feePlan, micros(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("person insert failed: %w", err)
	}
	p.ID = id
	return nil
}

func (q *Queries) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	var row personRow
	if err := q.get(ctx, &row, "SELECT "+personColumns+" FROM people WHERE id = ?", id); err != nil {
		return domain.Person{}, err
	}
	return row.domain(), nil
}

// ListPeopleWithFeePlan returns active people that have a fee plan attached.
func (q *Queries) ListPeopleWithFeePlan(ctx context.Context) ([]domain.Person, error) {
	var rows []personRow
	err := q.selectAll(ctx, &rows,
		"SELECT "+personColumns+" FROM people WHERE fee_plan_id IS NOT NULL AND deactivated = ? ORDER BY id",
		false,
	)
	if err != nil {
		return nil, err
	}
	people := make([]domain.Person, len(rows))
	for i, r := range rows {
		people[i] = r.domain()
	}
	return people, nil
}

type groupRow struct {
	ID                 int64               `db:"id"`
	Name               string              `db:"name"`
	Unit               string              `db:"unit"`
	Asset              string              `db:"asset"`
	Mode               int                 `db:"mode"`
	OwnerID            sql.NullInt64       `db:"owner_id"`
	AdhocCurrency      bool                `db:"adhoc_currency"`
	PrivateTxns        bool                `db:"private_txns"`
	DefaultCreditLimit decimal.NullDecimal `db:"default_credit_limit"`
	DefaultRoles       int64               `db:"default_roles"`
	CreatedAt          int64               `db:"created_at"`
}

func (r groupRow) domain() domain.Group {
	return domain.Group{
		ID:                 r.ID,
		Name:               r.Name,
		Unit:               r.Unit,
		Asset:              r.Asset,
		Mode:               domain.GroupMode(r.Mode),
		OwnerID:            r.OwnerID.Int64,
		AdhocCurrency:      r.AdhocCurrency,
		PrivateTxns:        r.PrivateTxns,
		DefaultCreditLimit: r.DefaultCreditLimit,
		DefaultRoles:       domain.RoleSetFromMask(r.DefaultRoles),
		CreatedAt:          fromMicros(r.CreatedAt),
	}
}

const groupColumns = "id, name, unit, asset, mode, owner_id, adhoc_currency, private_txns, default_credit_limit, default_roles, created_at"

func ownerID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func (q *Queries) CreateGroup(ctx context.Context, g *domain.Group) error {
	g.CreatedAt = q.stamp(g.CreatedAt)
	id, err := q.insert(ctx, `
		INSERT INTO groups (name, unit, asset, mode, owner_id, adhoc_currency, private_txns, default_credit_limit, default_roles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Name, g.Unit, g.Asset, int(g.Mode), ownerID(g.OwnerID), g.AdhocCurrency, g.PrivateTxns,
		g.DefaultCreditLimit, g.DefaultRoles.Mask(), micros(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("group insert failed: %w", err)
	}
	g.ID = id
	return nil
}

func (q *Queries) GetGroup(ctx context.Context, id int64) (domain.Group, error) {
	var row groupRow
	if err := q.get(ctx, &row, "SELECT "+groupColumns+" FROM groups WHERE id = ?", id); err != nil {
		return domain.Group{}, err
	}
	return row.domain(), nil
}

func (q *Queries) UpdateGroup(ctx context.Context, g domain.Group) error {
	n, err := q.exec(ctx, `
		UPDATE groups
		SET name = ?, unit = ?, asset = ?, mode = ?, adhoc_currency = ?, private_txns = ?, default_credit_limit = ?, default_roles = ?
		WHERE id = ?`,
		g.Name, g.Unit, g.Asset, int(g.Mode), g.AdhocCurrency, g.PrivateTxns, g.DefaultCreditLimit, g.DefaultRoles.Mask(), g.ID,
	)
	if err != nil {
		return fmt.Errorf("group update failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type membershipRow struct {
	ID         int64         `db:"id"`
	PersonID   int64         `db:"person_id"`
	GroupID    int64         `db:"group_id"`
	Status     int           `db:"status"`
	RolesMask  int64         `db:"roles_mask"`
	AcceptedAt sql.NullInt64 `db:"accepted_at"`
	CreatedAt  int64         `db:"created_at"`
}

func (r membershipRow) domain() domain.Membership {
	return domain.Membership{
		ID:         r.ID,
		PersonID:   r.PersonID,
		GroupID:    r.GroupID,
		Status:     domain.MembershipStatus(r.Status),
		Roles:      domain.RoleSetFromMask(r.RolesMask),
		AcceptedAt: fromNullMicros(r.AcceptedAt),
		CreatedAt:  fromMicros(r.CreatedAt),
	}
}

const membershipColumns = "id, person_id, group_id, status, roles_mask, accepted_at, created_at"

// CreateMembership returns ErrConflict if the pair already has one.
func (q *Queries) CreateMembership(ctx context.Context, m *domain.Membership) error {
	m.CreatedAt = q.stamp(m.CreatedAt)
	id, err := q.insert(ctx,
		"INSERT INTO memberships (person_id, group_id, status, roles_mask, accepted_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.PersonID, m.GroupID, int(m.Status), m.Roles.Mask(), nullMicros(m.AcceptedAt), micros(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("membership insert failed: %w", err)
	}
	m.ID = id
	return nil
}

func (q *Queries) GetMembership(ctx context.Context, personID, groupID int64) (domain.Membership, error) {
	var row membershipRow
	err := q.get(ctx, &row,
		"SELECT "+membershipColumns+" FROM memberships WHERE person_id = ? AND group_id = ?",
		personID, groupID,
	)
	if err != nil {
		return domain.Membership{}, err
	}
	return row.domain(), nil
}

func (q *Queries) ListMemberships(ctx context.Context, groupID int64) ([]domain.Membership, error) {
	var rows []membershipRow
	err := q.selectAll(ctx, &rows,
		"SELECT "+membershipColumns+" FROM memberships WHERE group_id = ? ORDER BY id", groupID)
	if err != nil {
		return nil, err
	}
	members := make([]domain.Membership, len(rows))
	for i, r := range rows {
		members[i] = r.domain()
	}
	return members, nil
}

func (q *Queries) UpdateMembership(ctx context.Context, m domain.Membership) error {
	n, err := q.exec(ctx,
		"UPDATE memberships SET status = ?, roles_mask = ?, accepted_at = ? WHERE id = ?",
		int(m.Status), m.Roles.Mask(), nullMicros(m.AcceptedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("membership update failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) DeleteMembership(ctx context.Context, personID, groupID int64) error {
	n, err := q.exec(ctx, "DELETE FROM memberships WHERE person_id = ? AND group_id = ?", personID, groupID)
	if err != nil {
		return fmt.Errorf("membership delete failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPersonIDs returns every person id in ascending order.
func (q *Queries) ListPersonIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := q.selectAll(ctx, &ids, "SELECT id FROM people ORDER BY id"); err != nil {
		return nil, err
	}
	return ids, nil
}
