package auth

import (
	"context"
	"time"

	"passport.org/internal/audit"
)

// Store aggregates the persistence surfaces the coordinators depend on.
type Store interface {
	Accounts() AccountStore
	Roles() RoleStore
	RefreshTokens() RefreshTokenStore
	audit.Sink
}

// AccountStore manages accounts. Create returns ErrConflict when the
// normalized email is already taken; the unique constraint is the final
// authority under racing registrations.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdateNames(ctx context.Context, id string, firstName, lastName *string) (*Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, page, pageSize int) ([]*Account, int, error)
}

// RoleStore manages the role catalog and account assignments. Assign returns
// ErrConflict when the account already holds the role.
type RoleStore interface {
	Ensure(ctx context.Context, roles []Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	Assign(ctx context.Context, accountID, roleID string) error
	NamesFor(ctx context.Context, accountID string) ([]string, error)
}

// RefreshTokenStore manages the refresh token ledger. Rotate is the critical
// operation: it must atomically mark the old token revoked and insert the
// replacement, and under concurrent rotation of the same token exactly one
// caller wins. Every unusable-old-token case (unknown, revoked, expired)
// returns ErrInvalidToken.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	Rotate(ctx context.Context, oldHash string, now time.Time, next *RefreshToken) (*RefreshToken, error)
	RevokeAll(ctx context.Context, accountID string) error
}
