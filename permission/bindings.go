package permission

import (
	"fmt"
	"sort"
)

// SuperAdminRole is the sentinel role that is granted every permission in
// every business scope. It never appears in a binding table.
const SuperAdminRole = "super_admin"

// GlobalScope is the business ID under which platform-level bindings are
// stored.
const GlobalScope = ""

// Bindings maps a role name to the permissions it grants within one
// business scope. A role that is absent grants nothing.
type Bindings map[string]Set

// Grant adds perms to role, creating the role entry if needed.
func (b Bindings) Grant(role string, perms ...string) {
	set, ok := b[role]
	if !ok {
		set = make(Set, len(perms))
		b[role] = set
	}
	for _, p := range perms {
		if p != "" {
			set[p] = struct{}{}
		}
	}
}

// Grants reports whether any of roles is bound to perm. Matching is an
// exact string comparison; there are no wildcards or hierarchies.
func (b Bindings) Grants(roles Set, perm string) bool {
	if perm == "" {
		return false
	}
	for role := range roles {
		if b[role].Has(perm) {
			return true
		}
	}
	return false
}

// Merge returns a new Bindings holding every grant of b and other.
func (b Bindings) Merge(other Bindings) Bindings {
	out := make(Bindings, len(b)+len(other))
	for role, perms := range b {
		out[role] = perms.Clone()
	}
	for role, perms := range other {
		if existing, ok := out[role]; ok {
			out[role] = existing.Union(perms)
			continue
		}
		out[role] = perms.Clone()
	}
	return out
}

// Roles returns the bound role names, sorted.
func (b Bindings) Roles() []string {
	out := make([]string, 0, len(b))
	for role := range b {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every bound tag is known to reg and that the
// super-admin sentinel is not bound explicitly.
func (b Bindings) Validate(reg *Registry) error {
	for role, perms := range b {
		if role == SuperAdminRole {
			return fmt.Errorf("role %q cannot carry explicit bindings", SuperAdminRole)
		}
		for p := range perms {
			if !reg.Known(p) {
				return fmt.Errorf("role %q is bound to unknown permission %q", role, p)
			}
		}
	}
	return nil
}
