package auth

import (
	"context"
	"errors"

	"passport.org/internal/audit"
)

// SessionService orchestrates refresh, verification, and logout. Time-based
// decisions live in the Ledger and Issuer it delegates to.
type SessionService struct {
	store    Store
	issuer   *Issuer
	ledger   *Ledger
	recorder *audit.Recorder
}

// NewSessionService constructs the session coordinator.
func NewSessionService(store Store, issuer *Issuer, ledger *Ledger, recorder *audit.Recorder) *SessionService {
	return &SessionService{
		store:    store,
		issuer:   issuer,
		ledger:   ledger,
		recorder: recorder,
	}
}

// Refresh rotates the presented refresh token and mints a fresh access token
// from the account's current role set. Claims are never re-signed from the
// old token: roles may have changed since it was issued.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (TokenPair, *Account, []string, error) {
	accountID, nextOpaque, record, err := s.ledger.Rotate(ctx, refreshToken)
	if err != nil {
		s.audit("", "auth.refresh", meta, false, "token rejected")
		return TokenPair{}, nil, nil, ErrInvalidToken
	}

	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		// A transient store failure must not cost the account its other
		// sessions; only a confirmed-missing account ends the chain.
		if !errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, nil, err
		}
		_ = s.ledger.RevokeAll(ctx, accountID)
		s.audit(accountID, "auth.refresh", meta, false, "account unavailable")
		return TokenPair{}, nil, nil, ErrInvalidToken
	}
	if !account.Active {
		// The rotation already consumed the chain; a disabled account simply
		// ends it.
		_ = s.ledger.RevokeAll(ctx, accountID)
		s.audit(accountID, "auth.refresh", meta, false, "account unavailable")
		return TokenPair{}, nil, nil, ErrInvalidToken
	}

	roles, err := s.store.Roles().NamesFor(ctx, accountID)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}
	access, accessExp, err := s.issuer.Issue(account.ID, account.Email, roles)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}

	s.audit(accountID, "auth.refresh", meta, true, "")
	pair := TokenPair{
		AccessToken:      access,
		RefreshToken:     nextOpaque,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}
	return pair, account, roles, nil
}

// Verify validates an access token and cross-checks the subject against the
// caller's asserted identity, returning the current profile on success.
func (s *SessionService) Verify(ctx context.Context, accessToken, claimedAccountID string) (*Account, []string, error) {
	result := s.issuer.Validate(accessToken)
	if !result.Valid || result.AccountID != claimedAccountID {
		return nil, nil, ErrInvalidToken
	}
	account, err := s.store.Accounts().Find(ctx, result.AccountID)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	roles, err := s.store.Roles().NamesFor(ctx, account.ID)
	if err != nil {
		return nil, nil, err
	}
	return account, roles, nil
}

// Logout revokes every refresh token for the account. Already-issued access
// tokens stay valid until natural expiry; there is no access-token blacklist.
func (s *SessionService) Logout(ctx context.Context, accountID string, meta RequestMeta) error {
	if err := s.ledger.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	s.audit(accountID, "auth.logout", meta, true, "")
	return nil
}

func (s *SessionService) audit(accountID, action string, meta RequestMeta, success bool, reason string) {
	s.recorder.Record(audit.Entry{
		AccountID: accountID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   success,
		Error:     reason,
	})
}
