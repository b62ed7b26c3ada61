package auth

import (
	"context"
	"time"
)

// memStore is an in-memory Store for exercising the services without a
// database. Not safe for concurrent use; tests are sequential.
type memStore struct {
	users       map[string]*User
	coops       map[string]*Cooperative
	sessions    map[string]*Session
	memberships map[string]*Membership
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*User),
		coops:       make(map[string]*Cooperative),
		sessions:    make(map[string]*Session),
		memberships: make(map[string]*Membership),
	}
}

func (m *memStore) Users(context.Context) UserStore               { return (*memUsers)(m) }
func (m *memStore) Cooperatives(context.Context) CooperativeStore { return (*memCoops)(m) }
func (m *memStore) Sessions(context.Context) SessionStore         { return (*memSessions)(m) }
func (m *memStore) Memberships(context.Context) MembershipStore   { return (*memMemberships)(m) }

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) UpdateRole(_ context.Context, userID string, role Role) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	return nil
}

func (m *memUsers) SetActive(_ context.Context, userID string, active bool) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

type memCoops memStore

func (m *memCoops) Create(_ context.Context, c *Cooperative) error {
	cp := *c
	m.coops[c.ID] = &cp
	return nil
}

func (m *memCoops) Find(_ context.Context, id string) (*Cooperative, error) {
	c, ok := m.coops[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCoops) List(context.Context) ([]*Cooperative, error) {
	var out []*Cooperative
	for _, c := range m.coops {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

type memSessions memStore

func (m *memSessions) Create(_ context.Context, s *Session) error {
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) RotateToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.TokenHash = tokenHash
	s.ExpiresAt = expiresAt
	return nil
}

func (m *memSessions) Revoke(_ context.Context, id string) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	s.RevokedAt = &now
	return nil
}

func (m *memSessions) RevokeByUser(_ context.Context, userID string) error {
	now := time.Now()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

type memMemberships memStore

func (m *memMemberships) put(ms *Membership) {
	cp := *ms
	m.memberships[ms.UserID+"|"+ms.CooperativeID] = &cp
}

func (m *memMemberships) Find(_ context.Context, userID, cooperativeID string) (*Membership, error) {
	ms, ok := m.memberships[userID+"|"+cooperativeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ms
	return &cp, nil
}

func (m *memMemberships) ForUser(_ context.Context, userID string) ([]Membership, error) {
	var out []Membership
	for _, ms := range m.memberships {
		if ms.UserID == userID && ms.Active {
			out = append(out, *ms)
		}
	}
	return out, nil
}
