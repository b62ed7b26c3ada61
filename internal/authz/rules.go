// Package authz evaluates declarative authorization rules against the
// resolved identity and blocks handlers before any side effect runs.
package authz

import (
	"fmt"
	"strings"

	"brfportal.se/internal/auth"
)

// Kind names the rule variants for audit payloads and metrics labels.
type Kind string

const (
	KindSingle    Kind = "single"
	KindRole      Kind = "role"
	KindHierarchy Kind = "hierarchy"
	KindAllOf     Kind = "all_of"
	KindAnyOf     Kind = "any_of"
)

// Rule is one declarative authorization requirement. Rules never widen
// implicitly: a permission rule does not also accept admin; where an admin
// bypass is wanted it must be spelled out as AnyOf(perm, hierarchy).
type Rule struct {
	kind  Kind
	perms []auth.Permission
	role  auth.Role
	inner *Rule
}

// Require demands a single named permission.
func Require(p auth.Permission) Rule {
	return Rule{kind: KindSingle, perms: []auth.Permission{p}}
}

// RequireRole demands an exact role.
func RequireRole(role auth.Role) Rule {
	return Rule{kind: KindRole, role: role}
}

// AtLeast demands a role at or above the minimum in the hierarchy.
func AtLeast(min auth.Role) Rule {
	return Rule{kind: KindHierarchy, role: min}
}

// AllOf demands every listed permission.
func AllOf(perms ...auth.Permission) Rule {
	return Rule{kind: KindAllOf, perms: perms}
}

// AnyOf demands at least one of the listed permissions. Combine with an
// admin hierarchy check by including auth.PermCrossTenant or wrapping in
// AnyOfRules where role bypass is intended.
func AnyOf(perms ...auth.Permission) Rule {
	return Rule{kind: KindAnyOf, perms: perms}
}

// Kind returns the rule variant.
func (r Rule) Kind() Kind { return r.kind }

// Evaluate checks the rule against the identity. A nil identity never
// passes.
func (r Rule) Evaluate(identity *auth.Context) bool {
	if identity == nil {
		return false
	}
	switch r.kind {
	case KindSingle:
		return len(r.perms) == 1 && identity.Can(r.perms[0])
	case KindRole:
		return identity.Role.Valid() && identity.Role == r.role
	case KindHierarchy:
		return identity.IsAtLeast(r.role)
	case KindAllOf:
		if len(r.perms) == 0 {
			return false
		}
		for _, p := range r.perms {
			if !identity.Can(p) {
				return false
			}
		}
		return true
	case KindAnyOf:
		for _, p := range r.perms {
			if identity.Can(p) {
				return true
			}
		}
		return false
	case kindOr:
		if r.inner != nil && r.inner.Evaluate(identity) {
			return true
		}
		return identity.IsAtLeast(r.role)
	default:
		return false
	}
}

// Describe renders the rule for the audit trail; never shown to clients.
func (r Rule) Describe() string {
	switch r.kind {
	case KindSingle:
		return fmt.Sprintf("single:%s", r.perms[0])
	case KindRole:
		return fmt.Sprintf("role:%s", r.role)
	case KindHierarchy:
		return fmt.Sprintf("hierarchy:>=%s", r.role)
	case KindAllOf, KindAnyOf:
		names := make([]string, len(r.perms))
		for i, p := range r.perms {
			names[i] = p.String()
		}
		return fmt.Sprintf("%s:%s", r.kind, strings.Join(names, ","))
	case kindOr:
		if r.inner != nil {
			return fmt.Sprintf("%s|hierarchy:>=%s", r.inner.Describe(), r.role)
		}
		return fmt.Sprintf("hierarchy:>=%s", r.role)
	default:
		return "unknown"
	}
}

// OrHierarchy widens an AnyOf-style decision with a role minimum: it passes
// when either the rule passes or the identity meets the minimum role. This
// is the explicit admin-bypass construction.
func OrHierarchy(rule Rule, min auth.Role) Rule {
	return Rule{kind: kindOr, perms: rule.perms, role: min, inner: &rule}
}

const kindOr Kind = "or_hierarchy"
