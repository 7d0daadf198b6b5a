// Package access holds the role registries that gate every mutating operation.
package access

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
)

// Account is an opaque principal key. The empty account is never valid.
type Account string

func (a Account) Valid() bool { return strings.TrimSpace(string(a)) != "" }

func (a Account) String() string { return string(a) }

// RoleKind is the closed set of roles a registry may assign.
type RoleKind int

const (
	Admin RoleKind = iota + 1
	PlatformRole
	IssuerRole
	InstructorRole
	LearnerRole
)

// All lists every role in declaration order.
var All = []RoleKind{Admin, PlatformRole, IssuerRole, InstructorRole, LearnerRole}

func (r RoleKind) String() string {
	switch r {
	case Admin:
		return "ADMIN"
	case PlatformRole:
		return "PLATFORM_ROLE"
	case IssuerRole:
		return "ISSUER_ROLE"
	case InstructorRole:
		return "INSTRUCTOR_ROLE"
	case LearnerRole:
		return "LEARNER_ROLE"
	default:
		return fmt.Sprintf("RoleKind(%d)", int(r))
	}
}

// Valid reports whether r is one of the declared roles.
func (r RoleKind) Valid() bool {
	switch r {
	case Admin, PlatformRole, IssuerRole, InstructorRole, LearnerRole:
		return true
	default:
		return false
	}
}

// ParseRole accepts the String form, case-insensitively, with or without the
// "_ROLE" suffix.
func ParseRole(s string) (RoleKind, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range All {
		name := r.String()
		if norm == name || norm+"_ROLE" == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", sentinel.ErrInvalidArgument, s)
}

// Event kinds emitted by Roles.
const (
	EventRoleGranted = "RoleGranted"
	EventRoleRevoked = "RoleRevoked"
)

// Roles is the role assignment table of one registry. It is not safe for use
// outside the registry's chain units.
type Roles struct {
	component string
	grantable map[RoleKind]bool
	grants    map[RoleKind]map[Account]bool
}

// NewRoles creates the table of component, with deployer holding Admin. Only the
// roles listed in grantable (Admin is always included) can be assigned.
func NewRoles(component string, deployer Account, grantable ...RoleKind) *Roles {
	r := &Roles{
		component: component,
		grantable: map[RoleKind]bool{Admin: true},
		grants:    make(map[RoleKind]map[Account]bool),
	}
	for _, k := range grantable {
		r.grantable[k] = true
	}
	r.set(Admin, deployer, true)
	return r
}

// Has reports whether acct currently holds role.
func (r *Roles) Has(role RoleKind, acct Account) bool {
	return r.grants[role][acct]
}

// Require returns ErrUnauthorized unless acct holds at least one of roles.
func (r *Roles) Require(acct Account, roles ...RoleKind) error {
	for _, role := range roles {
		if r.Has(role, acct) {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.String()
	}
	return fmt.Errorf("%w: %s lacks %s on %s", sentinel.ErrUnauthorized, acct, strings.Join(names, "|"), r.component)
}

// Members lists the holders of role in lexical order.
func (r *Roles) Members(role RoleKind) []Account {
	out := make([]Account, 0, len(r.grants[role]))
	for a, ok := range r.grants[role] {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grant assigns role to acct on behalf of caller, who must hold Admin. Granting
// a role already held is a no-op.
func (r *Roles) Grant(tx *chain.Tx, caller Account, role RoleKind, acct Account) error {
	if err := r.check(caller, role, acct); err != nil {
		return err
	}
	if r.Has(role, acct) {
		return nil
	}
	r.set(role, acct, true)
	tx.OnRollback(func() { r.set(role, acct, false) })
	tx.Emit(events.Event{
		Component: r.component,
		Kind:      EventRoleGranted,
		Actor:     string(caller),
		Accounts:  []string{string(acct)},
		Attrs:     map[string]string{"role": role.String()},
	})
	return nil
}

// Revoke removes role from acct on behalf of caller, who must hold Admin.
// Revoking a role not held is a no-op.
func (r *Roles) Revoke(tx *chain.Tx, caller Account, role RoleKind, acct Account) error {
	if err := r.check(caller, role, acct); err != nil {
		return err
	}
	if !r.Has(role, acct) {
		return nil
	}
	r.set(role, acct, false)
	tx.OnRollback(func() { r.set(role, acct, true) })
	tx.Emit(events.Event{
		Component: r.component,
		Kind:      EventRoleRevoked,
		Actor:     string(caller),
		Accounts:  []string{string(acct)},
		Attrs:     map[string]string{"role": role.String()},
	})
	return nil
}

func (r *Roles) check(caller Account, role RoleKind, acct Account) error {
	if err := r.Require(caller, Admin); err != nil {
		return err
	}
	if !role.Valid() || !r.grantable[role] {
		return fmt.Errorf("%w: role %s is not assignable on %s", sentinel.ErrInvalidArgument, role, r.component)
	}
	if !acct.Valid() {
		return fmt.Errorf("%w: empty account", sentinel.ErrInvalidArgument)
	}
	return nil
}

func (r *Roles) set(role RoleKind, acct Account, on bool) {
	m := r.grants[role]
	if m == nil {
		m = make(map[Account]bool)
		r.grants[role] = m
	}
	if on {
		m[acct] = true
	} else {
		delete(m, acct)
	}
}
