package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Cooperatives(ctx context.Context) CooperativeStore
	Sessions(ctx context.Context) SessionStore
	Memberships(ctx context.Context) MembershipStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateRole(ctx context.Context, userID string, role Role) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// CooperativeStore manages tenants.
type CooperativeStore interface {
	Create(ctx context.Context, c *Cooperative) error
	Find(ctx context.Context, id string) (*Cooperative, error)
	// List spans all tenants and therefore may only be reached through the
	// cross-tenant bypass path.
	List(ctx context.Context) ([]*Cooperative, error)
}

// SessionStore manages session lifecycle. Context switches run inside a
// transaction owned by the coop package, not through this interface.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	RotateToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeByUser(ctx context.Context, userID string) error
}

// MembershipStore answers which cooperatives a user is authorized for.
type MembershipStore interface {
	Find(ctx context.Context, userID, cooperativeID string) (*Membership, error)
	// ForUser is the narrowly scoped "available cooperatives" lookup used
	// only to populate the switch UI.
	ForUser(ctx context.Context, userID string) ([]Membership, error)
}
