package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRefreshRotatesChain(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, account, _, err := f.service.Register(ctx, "s@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	next, refreshed, roles, err := f.sessions.Refresh(ctx, pair.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.ID != account.ID {
		t.Fatal("refresh resolved a different account")
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must rotate the opaque token")
	}
	if result := f.issuer.Validate(next.AccessToken); !result.Valid || result.AccountID != account.ID {
		t.Fatalf("fresh access token invalid: %+v", result)
	}
	if len(roles) != 1 || roles[0] != DefaultRoleName {
		t.Fatalf("unexpected roles: %v", roles)
	}

	// The consumed token is dead; presenting it again fails uniformly.
	if _, _, _, err := f.sessions.Refresh(ctx, pair.RefreshToken, testMeta); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}
	// The replacement still works.
	if _, _, _, err := f.sessions.Refresh(ctx, next.RefreshToken, testMeta); err != nil {
		t.Fatalf("replacement refresh: %v", err)
	}
}

// Refresh re-derives roles from the store so a role granted after login shows
// up in the next access token.
func TestRefreshPicksUpNewRoles(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, account, _, err := f.service.Register(ctx, "roles@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.service.AssignRole(ctx, account.ID, AdminRoleName, testMeta); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	next, _, roles, err := f.sessions.Refresh(ctx, pair.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected both roles after refresh, got %v", roles)
	}
	result := f.issuer.Validate(next.AccessToken)
	if !result.Valid || len(result.Roles) != 2 {
		t.Fatalf("fresh access token missing new role: %+v", result)
	}
}

func TestRefreshInactiveAccountEndsChain(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, account, _, err := f.service.Register(ctx, "gone@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.store.mu.Lock()
	f.store.accounts[account.ID].Active = false
	f.store.mu.Unlock()

	if _, _, _, err := f.sessions.Refresh(ctx, pair.RefreshToken, testMeta); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for inactive account, got %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, _, _, err := f.service.Register(ctx, "exp@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	*f.now = f.now.Add(7*24*time.Hour + time.Minute) // past the refresh ttl

	if _, _, _, err := f.sessions.Refresh(ctx, pair.RefreshToken, testMeta); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired refresh token, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, account, _, err := f.service.Register(ctx, "v@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, roles, err := f.sessions.Verify(ctx, pair.AccessToken, account.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != account.ID || len(roles) != 1 {
		t.Fatalf("unexpected verify result: %+v %v", got, roles)
	}

	if _, _, err := f.sessions.Verify(ctx, pair.AccessToken, "someone-else"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for subject mismatch, got %v", err)
	}
	if _, _, err := f.sessions.Verify(ctx, "garbage", account.ID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage token, got %v", err)
	}
}

type flakyAccountStore struct {
	AccountStore
	err error
}

func (s *flakyAccountStore) Find(ctx context.Context, id string) (*Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.AccountStore.Find(ctx, id)
}

type flakyStore struct {
	Store
	accounts *flakyAccountStore
}

func (s *flakyStore) Accounts() AccountStore { return s.accounts }

// A store outage during the post-rotation account lookup must surface as an
// error, not revoke the account's other sessions. Only a confirmed-missing
// account ends every chain.
func TestRefreshStoreOutageKeepsOtherSessions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, _, _, err := f.service.Register(ctx, "outage@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, _, _, err := f.service.Login(ctx, "outage@example.com", "password", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	down := errors.New("store unavailable")
	broken := &flakyStore{
		Store:    f.store,
		accounts: &flakyAccountStore{AccountStore: f.store.Accounts(), err: down},
	}
	sessions := NewSessionService(broken, f.issuer, f.ledger, f.recorder)

	if _, _, _, err := sessions.Refresh(ctx, first.RefreshToken, testMeta); !errors.Is(err, down) {
		t.Fatalf("expected the outage error, got %v", err)
	}

	// The unrelated second session is untouched.
	if _, _, _, err := f.sessions.Refresh(ctx, second.RefreshToken, testMeta); err != nil {
		t.Fatalf("second session must survive the outage: %v", err)
	}
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	pair, account, _, err := f.service.Register(ctx, "out@example.com", "password", "", "", testMeta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, _, _, err := f.service.Login(ctx, "out@example.com", "password", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.sessions.Logout(ctx, account.ID, testMeta); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	for _, token := range []string{pair.RefreshToken, second.RefreshToken} {
		if _, _, _, err := f.sessions.Refresh(ctx, token, testMeta); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected all refresh tokens revoked, got %v", err)
		}
	}

	// Access tokens remain valid until natural expiry.
	if result := f.issuer.Validate(pair.AccessToken); !result.Valid {
		t.Fatalf("access token must survive logout: %s", result.Reason)
	}
}
