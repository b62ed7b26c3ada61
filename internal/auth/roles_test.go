package auth

import "testing"

func TestParseRoleFailsClosed(t *testing.T) {
	cases := map[string]Role{
		"member":    RoleMember,
		"board":     RoleBoard,
		"treasurer": RoleTreasurer,
		"chairman":  RoleChairman,
		"admin":     RoleAdmin,
		" Admin ":   RoleAdmin,
		"":          RoleInvalid,
		"superuser": RoleInvalid,
		"MEMBER;--": RoleInvalid,
	}
	for raw, want := range cases {
		if got := ParseRole(raw); got != want {
			t.Errorf("ParseRole(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestRoleHierarchy(t *testing.T) {
	order := []Role{RoleMember, RoleBoard, RoleTreasurer, RoleChairman, RoleAdmin}
	for i, r := range order {
		for j, min := range order {
			want := i >= j
			if got := r.AtLeast(min); got != want {
				t.Errorf("%v.AtLeast(%v) = %v, want %v", r, min, got, want)
			}
		}
	}
	if RoleInvalid.AtLeast(RoleMember) {
		t.Error("invalid role satisfied a minimum")
	}
	if RoleAdmin.AtLeast(RoleInvalid) {
		t.Error("invalid minimum was satisfied")
	}
	if RoleAdmin.AtLeast(Role(99)) {
		t.Error("out-of-range minimum was satisfied")
	}
}

func TestPermissionsForFailsClosed(t *testing.T) {
	for _, role := range []Role{RoleMember, RoleBoard, RoleTreasurer, RoleChairman, RoleAdmin} {
		if PermissionsFor(role) == 0 {
			t.Errorf("no permissions for valid role %v", role)
		}
	}
	if PermissionsFor(RoleInvalid) != 0 {
		t.Error("invalid role received permissions")
	}
	if PermissionsFor(Role(42)) != 0 {
		t.Error("unknown role received permissions")
	}
}

func TestOnlyAdminCrossesTenants(t *testing.T) {
	for _, role := range []Role{RoleMember, RoleBoard, RoleTreasurer, RoleChairman} {
		if PermissionsFor(role).Has(PermCrossTenant) {
			t.Errorf("role %v holds the cross-tenant permission", role)
		}
	}
	if !PermissionsFor(RoleAdmin).Has(PermCrossTenant) {
		t.Error("admin lacks the cross-tenant permission")
	}
}

func TestMergeOverridesIsAdditiveOnly(t *testing.T) {
	defaults := PermissionsFor(RoleMember)

	merged := MergeOverrides(defaults, map[string]bool{
		"canManageBookings": true,
		"canViewMembers":    false, // revocation attempt, must be ignored
		"canDoMagic":        true,  // unknown name, must be ignored
	})

	if !merged.Has(PermManageBookings) {
		t.Error("granted override missing from merge")
	}
	if !merged.Has(PermViewMembers) {
		t.Error("false override revoked a default permission")
	}
	if merged&defaults != defaults {
		t.Error("merge result is smaller than the defaults")
	}
}

func TestPermissionSetNames(t *testing.T) {
	set := NewPermissionSet(PermViewMembers, PermViewAuditLog)
	names := set.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
	if names[0] != "canViewAuditLog" || names[1] != "canViewMembers" {
		t.Fatalf("names not sorted: %v", names)
	}
}

func TestParsePermissionUnknown(t *testing.T) {
	if _, ok := ParsePermission("canSelfDestruct"); ok {
		t.Error("unknown permission parsed")
	}
	p, ok := ParsePermission("canManageSettings")
	if !ok || p != PermManageSettings {
		t.Errorf("ParsePermission(canManageSettings) = %v, %v", p, ok)
	}
}
