package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/store"
)

// Gate decides whether an actor may create or destroy an exchange. It is
// consulted inside the ledger transaction before any write, so a denial
// leaves nothing behind.
type Gate interface {
	AuthorizeCreate(ctx context.Context, q *store.Queries, actor Caller, x *domain.Exchange, g domain.Group) error
	AuthorizeDestroy(ctx context.Context, q *store.Queries, actor Caller, x *domain.Exchange) error
}

// Caller identifies who is acting. CapabilityID is set when a third-party
// client pays on the person's behalf.
type Caller struct {
	PersonID     int64
	CapabilityID int64
}

// Policy is the membership and role based Gate.
type Policy struct{}

var _ Gate = Policy{}

func (Policy) AuthorizeCreate(ctx context.Context, q *store.Queries, actor Caller, x *domain.Exchange, g domain.Group) error {
	if actor.CapabilityID != 0 {
		c, err := q.GetCapability(ctx, actor.CapabilityID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Deny("unknown capability")
		}
		if err != nil {
			return err
		}
		if err := c.Permits(actor.PersonID, g.Asset, x.Amount); err != nil {
			return err
		}
	}

	m, err := acceptedMembership(ctx, q, actor.PersonID, g.ID)
	if err != nil {
		return err
	}

	if actor.PersonID == x.CustomerID {
		acct, err := q.GetAccount(ctx, x.CustomerID, g.ID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Deny("no account in this group")
		}
		if err != nil {
			return err
		}
		if err := acct.Cover(x.Amount); err != nil {
			return &domain.AuthorizationError{Reason: "amount exceeds available balance", Err: err}
		}
		return nil
	}

	switch {
	case m.Is(domain.RoleAdmin):
		return nil
	case m.Is(domain.RolePointOfSaleOperator) && actor.PersonID == x.WorkerID:
		return nil
	}
	return domain.Deny("charging another member requires the point_of_sale_operator or admin role")
}

func (Policy) AuthorizeDestroy(ctx context.Context, q *store.Queries, actor Caller, x *domain.Exchange) error {
	m, err := acceptedMembership(ctx, q, actor.PersonID, x.GroupID)
	if err != nil {
		return err
	}
	if !m.Is(domain.RoleAdmin) {
		return domain.Deny("only group admins may delete exchanges")
	}
	return nil
}

// CanUpdateMembership reports whether actor may change target's roles.
// Admins manage everyone except other admins.
func (Policy) CanUpdateMembership(actor, target domain.Membership) error {
	if !actor.Accepted() || !actor.Is(domain.RoleAdmin) {
		return domain.Deny("only group admins may update memberships")
	}
	if target.Is(domain.RoleAdmin) && target.PersonID != actor.PersonID {
		return domain.Deny("admins cannot update another admin")
	}
	return nil
}

// AuthorizeReserve checks a reserve change on account. The group's reserve
// percentages may not add up to more than 1.
func (Policy) AuthorizeReserve(ctx context.Context, q *store.Queries, actorID int64, account *domain.Account, reserve bool, percent decimal.Decimal) error {
	m, err := acceptedMembership(ctx, q, actorID, account.GroupID)
	if err != nil {
		return err
	}
	if !m.Is(domain.RoleAdmin) {
		return domain.Deny("only group admins may configure reserve accounts")
	}
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Deny("reserve_percent must be between 0 and 1")
	}
	if !reserve {
		return nil
	}

	others, err := q.ListReserveAccounts(ctx, account.GroupID)
	if err != nil {
		return err
	}
	total := percent
	for _, a := range others {
		if a.ID != account.ID {
			total = total.Add(a.ReservePercent)
		}
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Deny(fmt.Sprintf("reserve percentages in the group would total %s", total.String()))
	}
	return nil
}

func acceptedMembership(ctx context.Context, q *store.Queries, personID, groupID int64) (domain.Membership, error) {
	m, err := q.GetMembership(ctx, personID, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return m, domain.Deny("not a member of this group")
	}
	if err != nil {
		return m, err
	}
	if !m.Accepted() {
		return m, domain.Deny("membership is not accepted")
	}
	return m, nil
}
