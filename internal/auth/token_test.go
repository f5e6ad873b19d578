package auth

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func testIssuer(t *testing.T, now *time.Time, ttl time.Duration) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-secret-at-least-32-bytes-long", "passport", "passport-clients", ttl,
		WithIssuerClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, 15*time.Minute)

	token, exp, err := issuer.Issue("acct-1", "user@example.com", []string{"User", "Admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	result := issuer.Validate(token)
	if !result.Valid {
		t.Fatalf("expected valid token, reason: %s", result.Reason)
	}
	if result.AccountID != "acct-1" || result.Email != "user@example.com" {
		t.Fatalf("unexpected identity: %+v", result)
	}
	if len(result.Roles) != 2 || result.Roles[0] != "User" || result.Roles[1] != "Admin" {
		t.Fatalf("roles not preserved: %v", result.Roles)
	}
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, 15*time.Minute)

	token, _, err := issuer.Issue("acct-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(15*time.Minute + time.Second)
	if result := issuer.Validate(token); result.Valid {
		t.Fatal("expected expired token to be invalid")
	}

	// Just inside the window is still good.
	now = now.Add(-2 * time.Second)
	if result := issuer.Validate(token); !result.Valid {
		t.Fatalf("expected token still valid, reason: %s", result.Reason)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, time.Hour)

	other, err := NewIssuer("a-completely-different-signing-secret", "passport", "passport-clients", time.Hour,
		WithIssuerClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, _, err := other.Issue("acct-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if result := issuer.Validate(token); result.Valid {
		t.Fatal("token signed with another secret must not validate")
	}
}

func TestValidateWrongIssuerOrAudience(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, time.Hour)

	foreign, err := NewIssuer("test-secret-at-least-32-bytes-long", "someone-else", "other-clients", time.Hour,
		WithIssuerClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, _, err := foreign.Issue("acct-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if result := issuer.Validate(token); result.Valid {
		t.Fatal("token with foreign issuer/audience must not validate")
	}
}

func TestValidateTampered(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, time.Hour)

	token, _, err := issuer.Issue("acct-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	// Flip a character in the payload.
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]
	if result := issuer.Validate(tampered); result.Valid {
		t.Fatal("tampered token must not validate")
	}
}

func TestValidateGarbage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, time.Hour)

	for _, token := range []string{"", "   ", "x", "a.b.c"} {
		if result := issuer.Validate(token); result.Valid {
			t.Fatalf("garbage token %q must not validate", token)
		}
	}
}

func TestNewIssuerRejectsBadConfig(t *testing.T) {
	if _, err := NewIssuer("", "passport", "passport-clients", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewIssuer("secret", "passport", "passport-clients", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestIssueRequiresAccountID(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, time.Hour)
	if _, _, err := issuer.Issue("  ", "user@example.com", nil); err == nil {
		t.Fatal("expected error for blank account id")
	}
}

func TestTokenIDsUnique(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, &now, time.Hour)

	first, _, err := issuer.Issue("acct-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, _, err := issuer.Issue("acct-1", "user@example.com", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first == second {
		t.Fatal("two tokens for the same identity must carry distinct jti values")
	}
}
