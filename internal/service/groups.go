package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/store"
)

// GroupService manages group-wide currency settings.
type GroupService struct {
	store  *store.Store
	policy Policy
	log    *slog.Logger
	now    func() time.Time
}

func NewGroupService(st *store.Store, log *slog.Logger) *GroupService {
	return &GroupService{store: st, log: log, now: time.Now}
}

// Create founds a group. The owner becomes its accepted admin with an
// account.
func (s *GroupService) Create(ctx context.Context, g *domain.Group) error {
	return s.store.InTx(ctx, func(q *store.Queries) error {
		if err := q.CreateGroup(ctx, g); err != nil {
			return err
		}
		if g.OwnerID == 0 {
			return nil
		}
		now := s.now().UTC()
		owner := domain.Membership{
			PersonID:   g.OwnerID,
			GroupID:    g.ID,
			Status:     domain.MembershipAccepted,
			Roles:      g.DefaultRoles.With(domain.RoleIndividual).With(domain.RoleAdmin),
			AcceptedAt: &now,
		}
		if err := q.CreateMembership(ctx, &owner); err != nil {
			return err
		}
		return q.CreateAccount(ctx, &domain.Account{
			PersonID:    g.OwnerID,
			GroupID:     g.ID,
			Name:        g.Name,
			Balance:     domain.InitialBalance,
			CreditLimit: g.DefaultCreditLimit,
		})
	})
}

// UpdateDefaultCreditLimit changes the group default and applies it to every
// existing account in the group. It returns the number of accounts updated.
func (s *GroupService) UpdateDefaultCreditLimit(ctx context.Context, actorID, groupID int64, limit decimal.NullDecimal) (int64, error) {
	if limit.Valid && limit.Decimal.IsNegative() {
		ve := &domain.ValidationError{}
		ve.Add("default_credit_limit", "must not be negative")
		return 0, ve
	}

	var n int64
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		m, err := acceptedMembership(ctx, q, actorID, groupID)
		if err != nil {
			return err
		}
		if !m.Is(domain.RoleAdmin) {
			return domain.Deny("only group admins may change the credit limit")
		}
		g, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		g.DefaultCreditLimit = limit
		if err := q.UpdateGroup(ctx, g); err != nil {
			return err
		}
		n, err = q.SetGroupCreditLimit(ctx, groupID, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "default credit limit updated", "group_id", groupID, "accounts", n)
	return n, nil
}

// UpdateReserve flags or unflags personID's account as a reserve account.
func (s *GroupService) UpdateReserve(ctx context.Context, actorID, groupID, personID int64, reserve bool, percent decimal.Decimal) (*domain.Account, error) {
	var acct *domain.Account
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		acct, err = q.GetAccount(ctx, personID, groupID)
		if err != nil {
			return err
		}
		if err := s.policy.AuthorizeReserve(ctx, q, actorID, acct, reserve, percent); err != nil {
			return err
		}
		if err := q.UpdateReserve(ctx, acct.ID, reserve, percent); err != nil {
			return err
		}
		acct.Reserve = reserve
		acct.ReservePercent = percent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *GroupService) Account(ctx context.Context, personID, groupID int64) (*domain.Account, error) {
	return s.store.GetAccount(ctx, personID, groupID)
}

// Entries returns the account's ledger legs, newest first.
func (s *GroupService) Entries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	if _, err := s.store.GetAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListAccountEntries(ctx, accountID)
}
