package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"passport.org/internal/audit"
)

// RequestMeta carries the client attribution recorded with audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service orchestrates registration, login, and password flows over the
// account store, Hasher, Ledger, Issuer, and audit Recorder. Collaborators
// are interfaces so tests can substitute in-memory doubles.
type Service struct {
	store    Store
	hasher   Hasher
	issuer   *Issuer
	ledger   *Ledger
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth coordinator.
func NewService(store Store, hasher Hasher, issuer *Issuer, ledger *Ledger, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		hasher:   hasher,
		issuer:   issuer,
		ledger:   ledger,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureRoles seeds the role catalog. Safe to call on every startup.
func (s *Service) EnsureRoles(ctx context.Context) error {
	return s.store.Roles().Ensure(ctx, []Role{
		{Name: DefaultRoleName, Description: "Standard account"},
		{Name: AdminRoleName, Description: "Administrative account"},
	})
}

// Register creates an account and returns its first token pair. A duplicate
// email — whether found up front or surfaced by the store's unique constraint
// under a racing registration — is a conflict, never a partial account.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string, meta RequestMeta) (TokenPair, *Account, []string, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, nil, ErrInvalidInput
	}

	if _, err := s.store.Accounts().FindByEmail(ctx, email); err == nil {
		s.audit("", "auth.register", meta, false, "email already registered")
		return TokenPair{}, nil, nil, ErrConflict
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Active:       true,
	}
	if err := s.store.Accounts().Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			s.audit("", "auth.register", meta, false, "email already registered")
		}
		return TokenPair{}, nil, nil, err
	}

	if role, err := s.store.Roles().FindByName(ctx, DefaultRoleName); err == nil {
		// Best effort: a missing default role leaves the account roleless
		// rather than failing registration.
		_ = s.store.Roles().Assign(ctx, account.ID, role.ID)
	}

	roles, err := s.store.Roles().NamesFor(ctx, account.ID)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}
	pair, err := s.mintPair(ctx, account, roles)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}

	s.audit(account.ID, "auth.register", meta, true, "")
	return pair, account, roles, nil
}

// Login verifies credentials and returns a token pair. Unknown email,
// inactive account, and password mismatch all yield ErrInvalidCredentials;
// only the audit trail records which it was.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (TokenPair, *Account, []string, error) {
	email = NormalizeEmail(email)

	account, err := s.store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		s.audit("", "auth.login", meta, false, "account not found")
		return TokenPair{}, nil, nil, ErrInvalidCredentials
	}
	if !account.Active {
		s.audit(account.ID, "auth.login", meta, false, "account inactive")
		return TokenPair{}, nil, nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, account.PasswordHash) {
		s.audit(account.ID, "auth.login", meta, false, "password mismatch")
		return TokenPair{}, nil, nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.Accounts().UpdateLastLogin(ctx, account.ID, now); err != nil {
		return TokenPair{}, nil, nil, err
	}
	account.LastLoginAt = &now

	roles, err := s.store.Roles().NamesFor(ctx, account.ID)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}
	pair, err := s.mintPair(ctx, account, roles)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}

	s.audit(account.ID, "auth.login", meta, true, "")
	return pair, account, roles, nil
}

// RequestPasswordReset acknowledges every request identically so responses
// cannot be used to probe for registered emails. When the account exists the
// request is audited.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) {
	account, err := s.store.Accounts().FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return
	}
	s.audit(account.ID, "auth.password_reset.request", meta, true, "")
}

// ResetPassword is the reference system's known stub: confirmation by token
// is not supported and always reports failure.
func (s *Service) ResetPassword(_ context.Context, _ string, meta RequestMeta) error {
	s.audit("", "auth.password_reset.confirm", meta, false, "reset by token not supported")
	return ErrResetUnsupported
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes all refresh tokens so stolen sessions do not survive the change.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string, meta RequestMeta) error {
	if next == "" {
		return ErrInvalidInput
	}
	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, account.PasswordHash) {
		s.audit(accountID, "auth.password_change", meta, false, "current password incorrect")
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.Accounts().UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}
	if err := s.ledger.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	s.audit(accountID, "auth.password_change", meta, true, "")
	return nil
}

// Profile returns the account with its current role names.
func (s *Service) Profile(ctx context.Context, accountID string) (*Account, []string, error) {
	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	roles, err := s.store.Roles().NamesFor(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return account, roles, nil
}

// UpdateProfile updates display fields; nil pointers leave fields unchanged.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, firstName, lastName *string) (*Account, error) {
	return s.store.Accounts().UpdateNames(ctx, accountID, firstName, lastName)
}

// ListAccounts returns one page of accounts with the total count.
func (s *Service) ListAccounts(ctx context.Context, page, pageSize int) ([]*Account, int, error) {
	if page < 1 || pageSize < 1 || pageSize > 100 {
		return nil, 0, ErrInvalidInput
	}
	return s.store.Accounts().List(ctx, page, pageSize)
}

// AssignRole attaches a catalog role to an account by name. Assigning a role
// the account already holds reports ErrConflict and changes nothing.
func (s *Service) AssignRole(ctx context.Context, accountID, roleName string, meta RequestMeta) error {
	role, err := s.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if _, err := s.store.Accounts().Find(ctx, accountID); err != nil {
		return err
	}
	if err := s.store.Roles().Assign(ctx, accountID, role.ID); err != nil {
		return err
	}
	s.audit(accountID, "auth.role_assign", meta, true, "")
	return nil
}

func (s *Service) mintPair(ctx context.Context, account *Account, roles []string) (TokenPair, error) {
	access, accessExp, err := s.issuer.Issue(account.ID, account.Email, roles)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, record, err := s.ledger.Issue(ctx, account.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) audit(accountID, action string, meta RequestMeta, success bool, reason string) {
	s.recorder.Record(audit.Entry{
		AccountID: accountID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   success,
		Error:     reason,
	})
}

// NormalizeEmail lowercases and trims an email address; uniqueness is
// enforced on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
