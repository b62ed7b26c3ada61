package auth

import (
	"sort"
	"strings"
)

// Permission is a named boolean capability, independent of role.
type Permission uint

const (
	PermViewMembers Permission = iota
	PermManageMembers
	PermViewFinances
	PermManageFinances
	PermUploadDocuments
	PermManageDocuments
	PermManageBookings
	PermManageSettings
	PermViewAuditLog
	PermCrossTenant

	permCount
)

var permissionNames = [permCount]string{
	PermViewMembers:     "canViewMembers",
	PermManageMembers:   "canManageMembers",
	PermViewFinances:    "canViewFinances",
	PermManageFinances:  "canManageFinances",
	PermUploadDocuments: "canUploadDocuments",
	PermManageDocuments: "canManageDocuments",
	PermManageBookings:  "canManageBookings",
	PermManageSettings:  "canManageSettings",
	PermViewAuditLog:    "canViewAuditLog",
	PermCrossTenant:     "canCrossTenant",
}

// String returns the wire/storage name of the permission.
func (p Permission) String() string {
	if p < permCount {
		return permissionNames[p]
	}
	return "unknown"
}

// ParsePermission resolves a stored permission name. Unknown names return
// false so a corrupted override row can never grant anything.
func ParsePermission(raw string) (Permission, bool) {
	raw = strings.TrimSpace(raw)
	for p, name := range permissionNames {
		if name == raw {
			return Permission(p), true
		}
	}
	return 0, false
}

// PermissionSet is a bitset over the closed permission enumeration.
type PermissionSet uint64

// NewPermissionSet builds a set from individual permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var set PermissionSet
	for _, p := range perms {
		set = set.With(p)
	}
	return set
}

// Has reports whether the permission is present.
func (s PermissionSet) Has(p Permission) bool {
	if p >= permCount {
		return false
	}
	return s&(1<<p) != 0
}

// With returns the set with the permission added.
func (s PermissionSet) With(p Permission) PermissionSet {
	if p >= permCount {
		return s
	}
	return s | 1<<p
}

// Union merges two sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	return s | other
}

// Names returns the sorted permission names in the set, for audit payloads.
func (s PermissionSet) Names() []string {
	var names []string
	for p := Permission(0); p < permCount; p++ {
		if s.Has(p) {
			names = append(names, p.String())
		}
	}
	sort.Strings(names)
	return names
}

var rolePermissions = map[Role]PermissionSet{
	RoleMember: NewPermissionSet(PermViewMembers),
	RoleBoard: NewPermissionSet(
		PermViewMembers, PermManageMembers, PermViewFinances,
		PermUploadDocuments, PermManageDocuments, PermManageBookings,
	),
	RoleTreasurer: NewPermissionSet(
		PermViewMembers, PermViewFinances, PermManageFinances,
		PermUploadDocuments,
	),
	RoleChairman: NewPermissionSet(
		PermViewMembers, PermManageMembers, PermViewFinances,
		PermManageFinances, PermUploadDocuments, PermManageDocuments,
		PermManageBookings, PermManageSettings, PermViewAuditLog,
	),
	RoleAdmin: NewPermissionSet(
		PermViewMembers, PermManageMembers, PermViewFinances,
		PermManageFinances, PermUploadDocuments, PermManageDocuments,
		PermManageBookings, PermManageSettings, PermViewAuditLog,
		PermCrossTenant,
	),
}

// PermissionsFor returns the default permission set for a role. Total for
// the five roles and fails closed to the empty set for anything else; it
// never panics because it sits on every authorization path.
func PermissionsFor(role Role) PermissionSet {
	return rolePermissions[role]
}

// MergeOverrides layers user-specific overrides onto role defaults. The
// merge is additive only: overrides may grant permissions but a false or
// unknown entry is ignored, so the result is never smaller than the
// defaults. Revocation must be modeled as a role change.
func MergeOverrides(defaults PermissionSet, overrides map[string]bool) PermissionSet {
	merged := defaults
	for name, granted := range overrides {
		if !granted {
			continue
		}
		if p, ok := ParsePermission(name); ok {
			merged = merged.With(p)
		}
	}
	return merged
}
