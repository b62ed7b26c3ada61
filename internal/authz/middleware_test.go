package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/ratelimit"
)

type captureRecorder struct {
	events []*audit.Event
}

func (c *captureRecorder) Record(_ context.Context, e *audit.Event) error {
	c.events = append(c.events, e)
	return nil
}

// userOnlyStore serves Users.Find and nothing else; the middleware tests
// authenticate via bearer tokens, which never touch sessions.
type userOnlyStore struct {
	auth.Store
	users map[string]*auth.User
}

type userOnlyUsers struct {
	auth.UserStore
	users map[string]*auth.User
}

func (s *userOnlyStore) Users(context.Context) auth.UserStore {
	return &userOnlyUsers{users: s.users}
}

func (s *userOnlyUsers) Find(_ context.Context, id string) (*auth.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u, nil
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewarePassesWithResolvedIdentity(t *testing.T) {
	identity := &auth.Context{
		UserID:      "u1",
		Role:        auth.RoleBoard,
		Permissions: auth.PermissionsFor(auth.RoleBoard),
	}
	var called bool
	h := Middleware(nil, nil, Require(auth.PermViewMembers))(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/v1/members", nil)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler not reached")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddlewareDeniesAndAudits(t *testing.T) {
	identity := &auth.Context{
		UserID:        "u1",
		Role:          auth.RoleMember,
		Permissions:   auth.PermissionsFor(auth.RoleMember),
		CooperativeID: "coop-1",
	}
	recorder := &captureRecorder{}
	var called bool
	h := Middleware(nil, recorder, Require(auth.PermManageMembers))(okHandler(&called))

	req := httptest.NewRequest(http.MethodPatch, "/v1/members/m1", nil)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler ran after denial")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "access denied") {
		t.Fatalf("unexpected body: %s", body)
	}
	// The body never names the failing rule.
	if strings.Contains(body, "canManageMembers") {
		t.Fatalf("body leaks rule detail: %s", body)
	}

	if len(recorder.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(recorder.events))
	}
	e := recorder.events[0]
	if e.Category != audit.CategoryAuthzDenied {
		t.Fatalf("category = %s", e.Category)
	}
	if e.TargetID != "PATCH /v1/members/m1" {
		t.Fatalf("target = %s", e.TargetID)
	}
	if !strings.Contains(string(e.After), "canManageMembers") {
		t.Fatalf("audit payload lacks rule detail: %s", e.After)
	}
}

func TestMiddlewareRulesEvaluateInOrder(t *testing.T) {
	identity := &auth.Context{
		UserID:      "u1",
		Role:        auth.RoleMember,
		Permissions: auth.PermissionsFor(auth.RoleMember),
	}
	recorder := &captureRecorder{}
	var called bool
	h := Middleware(nil, recorder,
		Require(auth.PermViewMembers),   // passes
		AtLeast(auth.RoleBoard),         // first failure, must be the audited one
		Require(auth.PermManageMembers), // never reached
	)(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/v1/members", nil)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(recorder.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(recorder.events))
	}
	if !strings.Contains(string(recorder.events[0].After), "hierarchy:>=board") {
		t.Fatalf("wrong rule audited: %s", recorder.events[0].After)
	}
}

func TestMiddlewareUnauthenticated(t *testing.T) {
	resolver := auth.NewResolver(nil, nil, nil)
	var called bool
	h := Middleware(resolver, nil)(okHandler(&called))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/members", nil))

	if called {
		t.Fatal("handler ran unauthenticated")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("WWW-Authenticate header missing")
	}
}

func TestMiddlewareInactiveUserGets403(t *testing.T) {
	store := &userOnlyStore{users: map[string]*auth.User{
		"u1": {ID: "u1", Role: auth.RoleMember, ActiveCooperativeID: "coop-1", Active: false},
	}}
	tokens, _ := auth.NewTokenService("test-secret")
	resolver := auth.NewResolver(store, tokens, nil)
	token, _, _ := tokens.Generate("u1", "coop-1")

	var called bool
	h := Middleware(resolver, nil)(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/v1/members", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "access denied") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestMiddlewareRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 1, time.Minute)
	resolver := auth.NewResolver(nil, nil, nil, auth.WithRateLimiter(limiter))
	h := Middleware(resolver, nil)(okHandler(new(bool)))

	req := httptest.NewRequest(http.MethodGet, "/v1/members", nil)
	req.RemoteAddr = "10.0.0.7:1234"

	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	req.AddCookie(&http.Cookie{Name: "brf_session", Value: "sid.secret"})
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "test-agent")

	creds := CredentialsFromRequest(req)
	if creds.BearerToken != "tok-123" {
		t.Fatalf("bearer = %q", creds.BearerToken)
	}
	if creds.SessionToken != "sid.secret" {
		t.Fatalf("session = %q", creds.SessionToken)
	}
	if creds.Meta.IP != "203.0.113.9" {
		t.Fatalf("ip = %q", creds.Meta.IP)
	}
	if creds.Meta.UserAgent != "test-agent" {
		t.Fatalf("ua = %q", creds.Meta.UserAgent)
	}
}

func TestCredentialsHeaderFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Session-Token", "sid.secret")
	creds := CredentialsFromRequest(req)
	if creds.SessionToken != "sid.secret" {
		t.Fatalf("session = %q", creds.SessionToken)
	}
}
