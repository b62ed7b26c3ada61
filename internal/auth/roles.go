package auth

import "strings"

// Role is the closed set of cooperative roles. The numeric order is the
// privilege hierarchy used by AtLeast checks; RoleInvalid sits below every
// real role so an unknown value never satisfies a minimum.
type Role int

const (
	RoleInvalid Role = iota
	RoleMember
	RoleBoard
	RoleTreasurer
	RoleChairman
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleMember:    "member",
	RoleBoard:     "board",
	RoleTreasurer: "treasurer",
	RoleChairman:  "chairman",
	RoleAdmin:     "admin",
}

var rolesByName = map[string]Role{
	"member":    RoleMember,
	"board":     RoleBoard,
	"treasurer": RoleTreasurer,
	"chairman":  RoleChairman,
	"admin":     RoleAdmin,
}

// String returns the storage name of the role, or "invalid".
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether the role belongs to the closed enumeration.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether the role meets the minimum in the hierarchy
// member < board < treasurer < chairman < admin. An invalid role never
// satisfies any minimum, and no role satisfies an invalid minimum.
func (r Role) AtLeast(min Role) bool {
	if !r.Valid() || !min.Valid() {
		return false
	}
	return r >= min
}

// ParseRole maps a stored role name onto the enumeration. Unrecognized
// input yields RoleInvalid rather than an error so authorization paths can
// fail closed without branching.
func ParseRole(raw string) Role {
	if role, ok := rolesByName[strings.TrimSpace(strings.ToLower(raw))]; ok {
		return role
	}
	return RoleInvalid
}
