package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/commonledger/internal/domain"
	"github.com/punchamoorthee/commonledger/internal/store"
)

// MembershipService drives the membership state machine
// none -> pending -> accepted, with breakup as the terminal step. Accepting
// provisions the member's account in the group.
type MembershipService struct {
	store    *store.Store
	policy   Policy
	notifier Notifier
	prefs    Preferences
	log      *slog.Logger
	now      func() time.Time
}

func NewMembershipService(st *store.Store, notifier Notifier, prefs Preferences, log *slog.Logger) *MembershipService {
	return &MembershipService{store: st, notifier: notifier, prefs: prefs, log: log, now: time.Now}
}

// Request asks to join a group. Public groups accept immediately, private
// groups leave the membership pending and closed groups refuse.
func (s *MembershipService) Request(ctx context.Context, personID, groupID int64) (*domain.Membership, error) {
	var (
		m      domain.Membership
		notice *domain.MembershipNotice
	)
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		g, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if g.Mode == domain.GroupClosed {
			return domain.ErrGroupClosed
		}
		p, err := q.GetPerson(ctx, personID)
		if err != nil {
			return err
		}

		m, err = s.open(ctx, q, g, personID)
		if err != nil {
			return err
		}
		if g.Mode == domain.GroupPublic {
			if err := s.accept(ctx, q, g, &m); err != nil {
				return err
			}
			notice = &domain.MembershipNotice{Membership: m, Group: g, Person: p}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterAccept(ctx, notice)
	return &m, nil
}

// Invite creates a pending membership on an admin's initiative.
func (s *MembershipService) Invite(ctx context.Context, actorID, personID, groupID int64) (*domain.Membership, error) {
	var m domain.Membership
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if err := s.requireAdmin(ctx, q, actorID, groupID); err != nil {
			return err
		}
		g, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if _, err := q.GetPerson(ctx, personID); err != nil {
			return err
		}
		m, err = s.open(ctx, q, g, personID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Accept moves a pending membership to accepted. The member or a group admin
// may accept.
func (s *MembershipService) Accept(ctx context.Context, actorID, personID, groupID int64) (*domain.Membership, error) {
	var (
		m      domain.Membership
		notice *domain.MembershipNotice
	)
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if actorID != personID {
			if err := s.requireAdmin(ctx, q, actorID, groupID); err != nil {
				return err
			}
		}
		g, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		p, err := q.GetPerson(ctx, personID)
		if err != nil {
			return err
		}
		m, err = q.GetMembership(ctx, personID, groupID)
		if err != nil {
			return err
		}
		if err := s.accept(ctx, q, g, &m); err != nil {
			return err
		}
		notice = &domain.MembershipNotice{Membership: m, Group: g, Person: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterAccept(ctx, notice)
	return &m, nil
}

// Breakup ends a membership. The account stays for the audit trail.
func (s *MembershipService) Breakup(ctx context.Context, actorID, personID, groupID int64) error {
	return s.store.InTx(ctx, func(q *store.Queries) error {
		if actorID != personID {
			actor, err := q.GetMembership(ctx, actorID, groupID)
			if errors.Is(err, store.ErrNotFound) {
				return domain.Deny("not a member of this group")
			}
			if err != nil {
				return err
			}
			target, err := q.GetMembership(ctx, personID, groupID)
			if err != nil {
				return err
			}
			if err := s.policy.CanUpdateMembership(actor, target); err != nil {
				return err
			}
		}
		return q.DeleteMembership(ctx, personID, groupID)
	})
}

// SetRoles replaces the member's roles. Unknown role names are rejected.
func (s *MembershipService) SetRoles(ctx context.Context, actorID, personID, groupID int64, names []string) (*domain.Membership, error) {
	roles, err := domain.ParseRoles(names)
	if err != nil {
		return nil, err
	}

	var m domain.Membership
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		actor, err := q.GetMembership(ctx, actorID, groupID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Deny("not a member of this group")
		}
		if err != nil {
			return err
		}
		m, err = q.GetMembership(ctx, personID, groupID)
		if err != nil {
			return err
		}
		if err := s.policy.CanUpdateMembership(actor, m); err != nil {
			return err
		}
		m.Roles = roles
		return q.UpdateMembership(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// open creates a pending membership carrying the group's default roles.
func (s *MembershipService) open(ctx context.Context, q *store.Queries, g domain.Group, personID int64) (domain.Membership, error) {
	m := domain.Membership{
		PersonID: personID,
		GroupID:  g.ID,
		Status:   domain.MembershipPending,
		Roles:    g.DefaultRoles,
	}
	if err := q.CreateMembership(ctx, &m); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return m, domain.ErrMembershipExists
		}
		return m, err
	}
	return m, nil
}

// accept applies the transition and provisions the account if the person
// has none in the group yet.
func (s *MembershipService) accept(ctx context.Context, q *store.Queries, g domain.Group, m *domain.Membership) error {
	if err := m.Accept(s.now().UTC()); err != nil {
		return err
	}
	if err := q.UpdateMembership(ctx, *m); err != nil {
		return err
	}

	_, err := q.GetAccount(ctx, m.PersonID, g.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	acct := &domain.Account{
		PersonID:    m.PersonID,
		GroupID:     g.ID,
		Name:        g.Name,
		Balance:     domain.InitialBalance,
		CreditLimit: g.DefaultCreditLimit,
	}
	if err := q.CreateAccount(ctx, acct); err != nil {
		return fmt.Errorf("account provisioning failed: %w", err)
	}
	return nil
}

func (s *MembershipService) requireAdmin(ctx context.Context, q *store.Queries, actorID, groupID int64) error {
	m, err := acceptedMembership(ctx, q, actorID, groupID)
	if err != nil {
		return err
	}
	if !m.Is(domain.RoleAdmin) {
		return domain.Deny("only group admins may manage memberships")
	}
	return nil
}

func (s *MembershipService) afterAccept(ctx context.Context, n *domain.MembershipNotice) {
	if n == nil {
		return
	}
	s.log.InfoContext(ctx, "membership accepted", "person_id", n.Person.ID, "group_id", n.Group.ID)

	events := []event{{kind: "activity", run: func(ctx context.Context) error {
		return s.store.CreateActivity(ctx, &domain.Activity{
			ItemType: "Membership",
			ItemID:   n.Membership.ID,
			PersonID: n.Person.ID,
			GroupID:  n.Group.ID,
		})
	}}}
	if s.notifier != nil && s.prefs.EmailNotifications {
		events = append(events, event{kind: "membership_notice", run: func(ctx context.Context) error {
			return s.notifier.MembershipAccepted(ctx, *n)
		}})
	}
	dispatch(ctx, s.log, events)
}
