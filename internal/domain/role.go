package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a membership role. The order is persisted as bit positions in
// roles_mask and must not change.
type Role uint8

const (
	RoleIndividual Role = iota
	RoleAdmin
	RoleModerator
	RoleOrg
	RolePointOfSaleOperator
	numRoles
)

var roleNames = [numRoles]string{
	RoleIndividual:          "individual",
	RoleAdmin:               "admin",
	RoleModerator:           "moderator",
	RoleOrg:                 "org",
	RolePointOfSaleOperator: "point_of_sale_operator",
}

func (r Role) String() string {
	if r >= numRoles {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// ParseRole maps a role name to its Role.
func ParseRole(name string) (Role, error) {
	name = strings.TrimSpace(name)
	for i, n := range roleNames {
		if n == name {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// RoleSet is a set of roles.
type RoleSet uint8

// Roles builds a set from roles.
func Roles(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

// ParseRoles builds a set from role names. Unknown names are rejected, every
// one of them reported.
func ParseRoles(names []string) (RoleSet, error) {
	var s RoleSet
	ve := &ValidationError{}
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			ve.AddErr("roles", err)
			continue
		}
		s = s.With(r)
	}
	return s, ve.Err()
}

// RoleSetFromMask rebuilds a set from its persisted mask, ignoring bits that
// do not name a role.
func RoleSetFromMask(mask int64) RoleSet {
	return RoleSet(mask) & (1<<numRoles - 1)
}

func (s RoleSet) Mask() int64 { return int64(s) }

func (s RoleSet) Has(r Role) bool { return r < numRoles && s&(1<<r) != 0 }

func (s RoleSet) With(r Role) RoleSet {
	if r >= numRoles {
		return s
	}
	return s | 1<<r
}

func (s RoleSet) Without(r Role) RoleSet { return s &^ (1 << r) }

// Names lists the roles in vocabulary order.
func (s RoleSet) Names() []string {
	names := []string{}
	for r := Role(0); r < numRoles; r++ {
		if s.Has(r) {
			names = append(names, r.String())
		}
	}
	return names
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseRoles(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
