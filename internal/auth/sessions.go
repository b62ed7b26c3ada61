package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"brfportal.se/internal/ids"
)

const defaultSessionTTL = 24 * time.Hour * 14

// SessionService creates, rotates and revokes sessions. The raw session
// token handed to clients is "<id>.<secret>"; only the secret's hash is
// stored, so a leaked sessions table cannot be replayed.
type SessionService struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// SessionOption configures SessionService behavior.
type SessionOption func(*SessionService)

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *SessionService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessionService constructs a SessionService.
func NewSessionService(store Store, opts ...SessionOption) *SessionService {
	svc := &SessionService{store: store, ttl: defaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Login verifies credentials and opens a session bound to the user's active
// cooperative. Every failure collapses to ErrUnauthenticated so the response
// never says whether the email exists.
func (s *SessionService) Login(ctx context.Context, email, password string, meta RequestMeta) (string, *Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, ErrUnauthenticated
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrUnauthenticated
	}
	if !user.Active {
		return "", nil, ErrUnauthenticated
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrUnauthenticated
	}

	raw, session, err := s.mint(user.ID, user.ActiveCooperativeID, meta)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		return "", nil, err
	}
	return raw, session, nil
}

// Refresh rotates the session secret and extends expiry. The old token is
// unusable the moment the rotation lands.
func (s *SessionService) Refresh(ctx context.Context, rawToken string) (string, *Session, error) {
	id, secret, err := SplitSessionToken(rawToken)
	if err != nil {
		return "", nil, ErrUnauthenticated
	}
	sessions := s.store.Sessions(ctx)
	session, err := sessions.Find(ctx, id)
	if err != nil {
		return "", nil, ErrUnauthenticated
	}
	if session.Revoked() || session.Expired(s.now()) {
		return "", nil, ErrUnauthenticated
	}
	if !secureCompareHash(session.TokenHash, secret) {
		_ = sessions.Revoke(ctx, session.ID)
		return "", nil, ErrUnauthenticated
	}

	newSecret, newHash, err := newSessionSecret()
	if err != nil {
		return "", nil, err
	}
	expiresAt := s.now().Add(s.ttl)
	if err := sessions.RotateToken(ctx, session.ID, newHash, expiresAt); err != nil {
		return "", nil, err
	}
	session.TokenHash = newHash
	session.ExpiresAt = expiresAt
	return session.ID + "." + newSecret, session, nil
}

// Logout revokes the session referenced by the raw token. The secret must
// match the stored hash, so knowing a session id alone cannot revoke it.
func (s *SessionService) Logout(ctx context.Context, rawToken string) error {
	session, err := s.verify(ctx, rawToken)
	if err != nil {
		return err
	}
	return s.store.Sessions(ctx).Revoke(ctx, session.ID)
}

// LogoutAll revokes every session of the token's owner. Possession of the
// presented session's secret is proven first, then the revocation fans out.
func (s *SessionService) LogoutAll(ctx context.Context, rawToken string) (*Session, error) {
	session, err := s.verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if err := s.store.Sessions(ctx).RevokeByUser(ctx, session.UserID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) verify(ctx context.Context, rawToken string) (*Session, error) {
	id, secret, err := SplitSessionToken(rawToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	session, err := s.store.Sessions(ctx).Find(ctx, id)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !secureCompareHash(session.TokenHash, secret) {
		return nil, ErrUnauthenticated
	}
	return session, nil
}

func (s *SessionService) mint(userID, cooperativeID string, meta RequestMeta) (string, *Session, error) {
	secret, hash, err := newSessionSecret()
	if err != nil {
		return "", nil, err
	}
	sessionID := ids.New()
	now := s.now()
	session := &Session{
		ID:            sessionID,
		UserID:        userID,
		CooperativeID: cooperativeID,
		TokenHash:     hash,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
		CreatedAt:     now.UTC(),
		ExpiresAt:     now.Add(s.ttl),
	}
	return sessionID + "." + secret, session, nil
}

func newSessionSecret() (secret, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(secret))
	return secret, hex.EncodeToString(sum[:]), nil
}

// SplitSessionToken separates a raw "<id>.<secret>" session token.
func SplitSessionToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid session token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
