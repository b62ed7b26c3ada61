package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/ratelimit"
)

type captureRecorder struct {
	events []*audit.Event
}

func (c *captureRecorder) Record(_ context.Context, e *audit.Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *captureRecorder) lastAction() string {
	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1].Action
}

func TestResolveBearerToken(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = &User{
		ID: "u1", Email: "anna@example.test", Role: RoleBoard,
		ActiveCooperativeID: "coop-1", Active: true,
		PermissionOverrides: map[string]bool{"canViewAuditLog": true},
	}
	tokens, _ := NewTokenService("test-secret")
	rec := &captureRecorder{}
	resolver := NewResolver(store, tokens, rec)

	token, _, err := tokens.Generate("u1", "coop-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	identity, err := resolver.Resolve(context.Background(), Credentials{BearerToken: token})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.UserID != "u1" || identity.CooperativeID != "coop-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.Role != RoleBoard {
		t.Fatalf("unexpected role: %v", identity.Role)
	}
	if !identity.Can(PermManageMembers) {
		t.Fatal("board default permission missing")
	}
	if !identity.Can(PermViewAuditLog) {
		t.Fatal("override permission missing")
	}
	if identity.SessionID != "" {
		t.Fatal("bearer resolution produced a session id")
	}
	if rec.lastAction() != "auth.resolve.ok" {
		t.Fatalf("unexpected audit action: %s", rec.lastAction())
	}
}

func TestResolveSessionToken(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "u1", "anna@example.test", "hunter22", RoleMember, "coop-1", true)
	sessions := NewSessionService(store)
	raw, session, err := sessions.Login(context.Background(), "anna@example.test", "hunter22", RequestMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	resolver := NewResolver(store, nil, nil)
	identity, err := resolver.Resolve(context.Background(), Credentials{SessionToken: raw})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.SessionID != session.ID {
		t.Fatalf("session id not carried: %q", identity.SessionID)
	}
}

// A stale but unexpired token must not preserve old privileges: the role is
// re-read from the store on every resolution.
func TestResolveRereadsRole(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = &User{
		ID: "u1", Email: "anna@example.test", Role: RoleAdmin,
		ActiveCooperativeID: "coop-1", Active: true,
	}
	tokens, _ := NewTokenService("test-secret")
	resolver := NewResolver(store, tokens, nil)

	token, _, err := tokens.Generate("u1", "coop-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	store.users["u1"].Role = RoleMember // demoted after token issue

	identity, err := resolver.Resolve(context.Background(), Credentials{BearerToken: token})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.Role != RoleMember {
		t.Fatalf("stale role survived: %v", identity.Role)
	}
	if identity.Can(PermCrossTenant) {
		t.Fatal("demoted user kept admin permission")
	}
}

func TestResolveInactiveAndMissingCollapse(t *testing.T) {
	store := newMemStore()
	store.users["gone"] = &User{
		ID: "gone", Role: RoleMember, ActiveCooperativeID: "coop-1", Active: false,
	}
	tokens, _ := NewTokenService("test-secret")
	rec := &captureRecorder{}
	resolver := NewResolver(store, tokens, rec)

	inactiveToken, _, _ := tokens.Generate("gone", "coop-1")
	_, err := resolver.Resolve(context.Background(), Credentials{BearerToken: inactiveToken})
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("inactive user: %v", err)
	}
	if !IsDenied(err) {
		t.Fatal("ErrUserInactive not classified as denial")
	}

	missingToken, _, _ := tokens.Generate("never-existed", "coop-1")
	_, err = resolver.Resolve(context.Background(), Credentials{BearerToken: missingToken})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user: %v", err)
	}
	if !IsDenied(err) {
		t.Fatal("ErrUserNotFound not classified as denial")
	}
}

type failingUserStore struct {
	Store
	err error
}

func (f *failingUserStore) Users(context.Context) UserStore { return failingUsers{f.err} }

type failingUsers struct{ err error }

func (f failingUsers) Create(context.Context, *User) error                { return f.err }
func (f failingUsers) Find(context.Context, string) (*User, error)        { return nil, f.err }
func (f failingUsers) FindByEmail(context.Context, string) (*User, error) { return nil, f.err }
func (f failingUsers) UpdateRole(context.Context, string, Role) error     { return f.err }
func (f failingUsers) SetActive(context.Context, string, bool) error      { return f.err }

func TestResolveStoreFailureIsNotUserNotFound(t *testing.T) {
	store := &failingUserStore{err: errors.New("connection refused")}
	tokens, _ := NewTokenService("test-secret")
	rec := &captureRecorder{}
	resolver := NewResolver(store, tokens, rec)

	token, _, _ := tokens.Generate("u1", "coop-1")
	_, err := resolver.Resolve(context.Background(), Credentials{BearerToken: token})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("store failure = %v, want ErrInternal", err)
	}
	if rec.lastAction() != "auth.resolve.store_error" {
		t.Fatalf("store failure audited as %s", rec.lastAction())
	}
}

func TestResolveInvalidRoleFailsClosed(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = &User{
		ID: "u1", Role: Role(99), ActiveCooperativeID: "coop-1", Active: true,
	}
	tokens, _ := NewTokenService("test-secret")
	resolver := NewResolver(store, tokens, nil)

	token, _, _ := tokens.Generate("u1", "coop-1")
	if _, err := resolver.Resolve(context.Background(), Credentials{BearerToken: token}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("corrupted role resolved: %v", err)
	}
}

func TestResolveNoCredentials(t *testing.T) {
	resolver := NewResolver(newMemStore(), nil, nil)
	if _, err := resolver.Resolve(context.Background(), Credentials{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveRateLimited(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 3, time.Minute,
		ratelimit.WithClock(func() time.Time { return now }))
	rec := &captureRecorder{}
	resolver := NewResolver(store, nil, rec, WithRateLimiter(limiter))

	creds := Credentials{Meta: RequestMeta{IP: "10.0.0.9"}}
	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), creds); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	_, err := resolver.Resolve(context.Background(), creds)
	var limited *ratelimit.LimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if limited.RetryAfter != time.Minute {
		t.Fatalf("RetryAfter = %v, want full window", limited.RetryAfter)
	}
	if rec.lastAction() != "auth.resolve.rate_limited" {
		t.Fatalf("rate-limited attempt not audited: %s", rec.lastAction())
	}
}
