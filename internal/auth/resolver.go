package auth

import (
	"context"
	"errors"
	"time"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/obs"
	"brfportal.se/internal/ratelimit"
)

// Credentials are the inbound request credentials, in resolution priority
// order: bearer token first, then session token.
type Credentials struct {
	BearerToken  string
	SessionToken string
	Meta         RequestMeta
}

// Resolver validates credentials and produces the authenticated Context.
// Authorization-relevant fields (role, active flag, cooperative id) are
// always re-read from the identity store, never trusted from claims, so a
// demoted user loses privileges before their token expires.
type Resolver struct {
	store    Store
	tokens   *TokenService
	recorder audit.Recorder
	limiter  *ratelimit.Limiter
	now      func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithRateLimiter attaches a per-client attempt limiter.
func WithRateLimiter(l *ratelimit.Limiter) ResolverOption {
	return func(r *Resolver) {
		r.limiter = l
	}
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, tokens *TokenService, recorder audit.Recorder, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, tokens: tokens, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates the request. Every attempt, success or failure,
// produces one auth_resolution audit event; rate-limited attempts are
// audited too but with a distinct outcome.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (*Context, error) {
	if r.limiter != nil {
		if err := r.limiter.Allow("auth:" + clientKey(creds.Meta)); err != nil {
			r.audit(ctx, "", "", "rate_limited", creds.Meta)
			obs.CountAuthResolution("rate_limited")
			return nil, err
		}
	}

	userID, sessionID, ok := r.authenticate(ctx, creds)
	if !ok {
		r.audit(ctx, "", "", "unauthenticated", creds.Meta)
		obs.CountAuthResolution("unauthenticated")
		return nil, ErrUnauthenticated
	}

	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.audit(ctx, userID, "", "user_not_found", creds.Meta)
			obs.CountAuthResolution("user_not_found")
			return nil, ErrUserNotFound
		}
		// A store failure is an infrastructure outcome, not a missing user.
		r.audit(ctx, userID, "", "store_error", creds.Meta)
		obs.CountAuthResolution("store_error")
		return nil, ErrInternal
	}
	if !user.Active {
		r.audit(ctx, user.ID, user.Role.String(), "user_inactive", creds.Meta)
		obs.CountAuthResolution("user_inactive")
		return nil, ErrUserInactive
	}
	if !user.Role.Valid() {
		// Fail closed: a corrupted role row grants nothing.
		r.audit(ctx, user.ID, "", "invalid_role", creds.Meta)
		obs.CountAuthResolution("invalid_role")
		return nil, ErrAccessDenied
	}

	identity := &Context{
		UserID:        user.ID,
		Email:         user.Email,
		Role:          user.Role,
		Permissions:   MergeOverrides(PermissionsFor(user.Role), user.PermissionOverrides),
		CooperativeID: user.ActiveCooperativeID,
		SessionID:     sessionID,
		Meta:          creds.Meta,
	}
	r.audit(ctx, user.ID, user.Role.String(), "ok", creds.Meta)
	obs.CountAuthResolution("ok")
	return identity, nil
}

// authenticate tries bearer token then session token; the first method that
// validates wins.
func (r *Resolver) authenticate(ctx context.Context, creds Credentials) (userID, sessionID string, ok bool) {
	if creds.BearerToken != "" && r.tokens != nil {
		if claims, err := r.tokens.Verify(creds.BearerToken); err == nil {
			return claims.Subject, "", true
		}
	}
	if creds.SessionToken != "" {
		if session, err := r.validateSession(ctx, creds.SessionToken); err == nil {
			return session.UserID, session.ID, true
		}
	}
	return "", "", false
}

func (r *Resolver) validateSession(ctx context.Context, rawToken string) (*Session, error) {
	id, secret, err := SplitSessionToken(rawToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	session, err := r.store.Sessions(ctx).Find(ctx, id)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if session.Revoked() || session.Expired(r.now()) {
		return nil, ErrUnauthenticated
	}
	if !secureCompareHash(session.TokenHash, secret) {
		return nil, ErrUnauthenticated
	}
	return session, nil
}

func (r *Resolver) audit(ctx context.Context, userID, role, outcome string, meta RequestMeta) {
	if r.recorder == nil {
		return
	}
	_ = r.recorder.Record(ctx, &audit.Event{
		Category:    audit.CategoryAuthResolution,
		Action:      "auth.resolve." + outcome,
		ActorUserID: userID,
		ActorRole:   role,
		RequestID:   meta.RequestID,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
}

func clientKey(meta RequestMeta) string {
	if meta.IP != "" {
		return meta.IP
	}
	return "unknown"
}
