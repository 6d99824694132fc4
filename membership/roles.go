package membership

import (
	"fmt"
	"sort"
)

// Role is a configured member category.
type Role string

// Permission is a capability granted by a role.
type Permission string

// Permissions understood by the registry and the consensus engine.
const (
	PermVote    Permission = "vote"
	PermPropose Permission = "propose"
)

// RoleTable maps every configured role to its permission set. It is built
// once at start-up and never mutated.
type RoleTable struct {
	perms map[Role]map[Permission]struct{}
	first Role
}

// NewRoleTable builds the table from role names to permission names.
// first is the role required to bootstrap the registry.
func NewRoleTable(categories map[string][]string, first string) (*RoleTable, error) {
	t := &RoleTable{
		perms: make(map[Role]map[Permission]struct{}, len(categories)),
		first: Role(first),
	}
	for name, perms := range categories {
		if name == "" {
			return nil, fmt.Errorf("%w: empty role name", ErrInvalidRole)
		}
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			switch Permission(p) {
			case PermVote, PermPropose:
				set[Permission(p)] = struct{}{}
			default:
				return nil, fmt.Errorf("unknown permission %q for role %q", p, name)
			}
		}
		t.perms[Role(name)] = set
	}
	if _, ok := t.perms[t.first]; !ok {
		return nil, fmt.Errorf("%w: first member role %q is not configured", ErrInvalidRole, first)
	}
	return t, nil
}

// Parse validates a role name.
func (t *RoleTable) Parse(name string) (Role, error) {
	r := Role(name)
	if _, ok := t.perms[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, name)
	}
	return r, nil
}

// Allows reports whether role r carries permission p.
func (t *RoleTable) Allows(r Role, p Permission) bool {
	_, ok := t.perms[r][p]
	return ok
}

// First returns the bootstrap role.
func (t *RoleTable) First() Role {
	return t.first
}

// Roles returns the configured roles in name order.
func (t *RoleTable) Roles() []Role {
	out := make([]Role, 0, len(t.perms))
	for r := range t.perms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
