package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewTokenService("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, expiresAt, err := svc.Generate("user-42", "coop-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.CooperativeID != "coop-1" {
		t.Fatalf("unexpected cooperative id: %s", claims.CooperativeID)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := NewTokenService("test-secret", WithClock(clock), WithAccessTTL(10*time.Minute))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, _, err := svc.Generate("user-42", "coop-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	now = now.Add(11 * time.Minute)
	if _, err := svc.Verify(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestTokenWrongSecret(t *testing.T) {
	a, _ := NewTokenService("secret-a")
	b, _ := NewTokenService("secret-b")

	token, _, err := a.Generate("user-1", "coop-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Fatal("token verified with wrong secret")
	}
}

func TestTokenWrongIssuer(t *testing.T) {
	a, _ := NewTokenService("shared-secret", WithIssuer("someone-else"))
	b, _ := NewTokenService("shared-secret")

	token, _, err := a.Generate("user-1", "coop-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Fatal("token with foreign issuer accepted")
	}
}

func TestTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService("  "); err == nil {
		t.Fatal("blank secret accepted")
	}
}

func TestGenerateRequiresUser(t *testing.T) {
	svc, _ := NewTokenService("test-secret")
	if _, _, err := svc.Generate("", "coop-1"); err == nil {
		t.Fatal("empty user id accepted")
	}
}
