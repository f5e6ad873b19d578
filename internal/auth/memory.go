package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"passport.org/internal/audit"
	"passport.org/internal/ids"
)

// MemoryStore is an in-process Store. It backs DSN-less development runs and
// the coordinator tests; the same single mutex that makes it simple also
// makes refresh rotation a true compare-and-swap.
type MemoryStore struct {
	mu         sync.Mutex
	accounts   map[string]*Account // by id
	emails     map[string]string   // normalized email -> id
	roles      map[string]*Role    // by id
	roleNames  map[string]string   // lowercased name -> id
	assigned   map[string]map[string]time.Time
	tokens     map[string]*RefreshToken // by token hash
	auditTrail []audit.Entry
	now        func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source (useful for tests).
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		accounts:  make(map[string]*Account),
		emails:    make(map[string]string),
		roles:     make(map[string]*Role),
		roleNames: make(map[string]string),
		assigned:  make(map[string]map[string]time.Time),
		tokens:    make(map[string]*RefreshToken),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Accounts() AccountStore           { return (*memAccounts)(s) }
func (s *MemoryStore) Roles() RoleStore                 { return (*memRoles)(s) }
func (s *MemoryStore) RefreshTokens() RefreshTokenStore { return (*memTokens)(s) }

// AppendAudit implements audit.Sink.
func (s *MemoryStore) AppendAudit(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	s.auditTrail = append(s.auditTrail, entry)
	return nil
}

// AuditTrail returns a copy of recorded entries, oldest first.
func (s *MemoryStore) AuditTrail() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.auditTrail))
	copy(out, s.auditTrail)
	return out
}

// Account store ------------------------------------------------------------

type memAccounts MemoryStore

func (s *memAccounts) Create(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(account.Email))
	if email == "" {
		return ErrInvalidInput
	}
	if _, taken := s.emails[email]; taken {
		return ErrConflict
	}
	if account.ID == "" {
		account.ID = ids.New()
	}
	now := s.now().UTC()
	account.Email = email
	account.CreatedAt = now
	account.UpdatedAt = now
	cp := *account
	s.accounts[account.ID] = &cp
	s.emails[email] = account.ID
	return nil
}

func (s *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *memAccounts) findLocked(id string) (*Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return s.findLocked(id)
}

func (s *memAccounts) UpdateNames(_ context.Context, id string, firstName, lastName *string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if firstName != nil {
		account.FirstName = *firstName
	}
	if lastName != nil {
		account.LastName = *lastName
	}
	account.UpdatedAt = s.now().UTC()
	cp := *account
	return &cp, nil
}

func (s *memAccounts) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memAccounts) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	account.LastLoginAt = &at
	account.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memAccounts) List(_ context.Context, page, pageSize int) ([]*Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		cp := *account
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// Role store ---------------------------------------------------------------

type memRoles MemoryStore

func (s *memRoles) Ensure(_ context.Context, roles []Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range roles {
		key := strings.ToLower(strings.TrimSpace(role.Name))
		if key == "" {
			continue
		}
		if _, ok := s.roleNames[key]; ok {
			continue
		}
		if role.ID == "" {
			role.ID = ids.New()
		}
		role.CreatedAt = s.now().UTC()
		cp := role
		s.roles[role.ID] = &cp
		s.roleNames[key] = role.ID
	}
	return nil
}

func (s *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.roleNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.roles[id]
	return &cp, nil
}

func (s *memRoles) Assign(_ context.Context, accountID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	held := s.assigned[accountID]
	if held == nil {
		held = make(map[string]time.Time)
		s.assigned[accountID] = held
	}
	if _, ok := held[roleID]; ok {
		return ErrConflict
	}
	held[roleID] = s.now().UTC()
	return nil
}

func (s *memRoles) NamesFor(_ context.Context, accountID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for roleID := range s.assigned[accountID] {
		if role, ok := s.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Refresh token store ------------------------------------------------------

type memTokens MemoryStore

func (s *memTokens) Create(_ context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.TokenHash] = &cp
	return nil
}

func (s *memTokens) Rotate(_ context.Context, oldHash string, now time.Time, next *RefreshToken) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldHash]
	if !ok || !old.Usable(now) {
		return nil, ErrInvalidToken
	}
	old.Revoked = true
	next.AccountID = old.AccountID
	cp := *next
	s.tokens[next.TokenHash] = &cp
	out := *old
	return &out, nil
}

func (s *memTokens) RevokeAll(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.AccountID == accountID {
			token.Revoked = true
		}
	}
	return nil
}
