package auth

import "time"

// Account is an identity known to the service. Email is stored lowercased and
// is unique case-insensitively.
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Active       bool       `json:"active"`
	Verified     bool       `json:"verified"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Role is immutable reference data assigned to accounts by name.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment is the join row between an account and a role.
type RoleAssignment struct {
	AccountID string    `json:"account_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshToken is the persisted ledger row for one opaque refresh token.
// Only the SHA-256 digest of the opaque value is stored. The row is never
// mutated except to flip Revoked, which is terminal.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// Usable reports whether the token can still continue its rotation chain.
// Expiry is a predicate evaluated at lookup time, not a stored state.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenPair is the result of a successful registration, login, or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// DefaultRoleName is attached to new accounts when present in the catalog.
const DefaultRoleName = "User"

// AdminRoleName guards the admin listing and role-assignment surface.
const AdminRoleName = "Admin"
