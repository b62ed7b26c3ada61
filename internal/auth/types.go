package auth

import "time"

// User is the identity record. Role, Active and ActiveCooperativeID are
// authorization-relevant and must always be read fresh from the store, never
// trusted from token claims.
type User struct {
	ID                  string
	Email               string
	Role                Role
	ActiveCooperativeID string
	Active              bool
	// PermissionOverrides is a sparse grant-only map layered on top of the
	// role defaults at resolution time.
	PermissionOverrides map[string]bool
	PasswordHash        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Cooperative is the tenant boundary. Every tenant-scoped row carries
// exactly one cooperative id, set at creation and immutable thereafter.
type Cooperative struct {
	ID        string
	Name      string
	OrgNumber string
	Subdomain string
	Active    bool
	TestData  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session ties a live connection to a user and an active cooperative.
type Session struct {
	ID            string
	UserID        string
	CooperativeID string
	TokenHash     string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Revoked reports whether the session was explicitly revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Membership authorizes a user for a cooperative. CanSwitch consults these
// rows; the role here is the role the user holds inside that cooperative.
type Membership struct {
	UserID        string
	CooperativeID string
	Role          Role
	Active        bool
	CreatedAt     time.Time
}

// RequestMeta carries client metadata through resolution into audit events.
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}
