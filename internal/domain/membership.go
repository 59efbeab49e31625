package domain

import (
	"fmt"
	"time"
)

// MembershipStatus codes are persisted; 1 was the retired "invited" status.
type MembershipStatus int

const (
	MembershipAccepted MembershipStatus = 0
	MembershipPending  MembershipStatus = 2
)

func (s MembershipStatus) String() string {
	switch s {
	case MembershipAccepted:
		return "accepted"
	case MembershipPending:
		return "pending"
	default:
		return "unknown"
	}
}

func (s MembershipStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MembershipStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "accepted":
		*s = MembershipAccepted
	case "pending":
		*s = MembershipPending
	default:
		return fmt.Errorf("unknown membership status %q", b)
	}
	return nil
}

// Membership is the (person, group) relationship. At most one exists per
// pair. It moves pending -> accepted and is destroyed by a breakup.
type Membership struct {
	ID         int64            `json:"id"`
	PersonID   int64            `json:"person_id"`
	GroupID    int64            `json:"group_id"`
	Status     MembershipStatus `json:"status"`
	Roles      RoleSet          `json:"roles"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

func (m *Membership) Accepted() bool { return m.Status == MembershipAccepted }

func (m *Membership) Is(r Role) bool { return m.Roles.Has(r) }

// Accept moves a pending membership to accepted and grants the individual
// role.
func (m *Membership) Accept(at time.Time) error {
	if m.Status != MembershipPending {
		return ErrInvalidTransition
	}
	m.Status = MembershipAccepted
	m.AcceptedAt = &at
	m.Roles = m.Roles.With(RoleIndividual)
	return nil
}
