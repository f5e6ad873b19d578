package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"passport.org/internal/ids"
)

// refreshTokenBytes is the entropy of an opaque refresh token (512 bits).
const refreshTokenBytes = 64

// Ledger issues, rotates, and revokes opaque refresh tokens. The opaque value
// leaves the process exactly once, at issuance; only its SHA-256 digest is
// stored, so a leaked ledger row cannot be replayed.
type Ledger struct {
	store RefreshTokenStore
	ttl   time.Duration
	now   func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source (useful for tests).
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(store RefreshTokenStore, ttl time.Duration, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue mints a fresh opaque token for the account and persists its digest.
func (l *Ledger) Issue(ctx context.Context, accountID string) (string, *RefreshToken, error) {
	opaque, record, err := l.generate(accountID)
	if err != nil {
		return "", nil, err
	}
	if err := l.store.Create(ctx, record); err != nil {
		return "", nil, err
	}
	return opaque, record, nil
}

// Rotate consumes the presented token and issues its continuation as a single
// atomic step. Two concurrent rotations of the same value resolve to exactly
// one winner; the loser observes ErrInvalidToken. Unknown, revoked, and
// expired tokens are indistinguishable to the caller.
func (l *Ledger) Rotate(ctx context.Context, opaque string) (string, string, *RefreshToken, error) {
	if opaque == "" {
		return "", "", nil, ErrInvalidToken
	}
	// The owning account is not known until the old row is read, so the
	// replacement's AccountID is filled in by the store inside the same
	// atomic unit.
	next, record, err := l.generate("")
	if err != nil {
		return "", "", nil, err
	}
	old, err := l.store.Rotate(ctx, HashToken(opaque), l.now().UTC(), record)
	if err != nil {
		return "", "", nil, err
	}
	return old.AccountID, next, record, nil
}

// RevokeAll marks every live token for the account revoked. Idempotent: with
// no live tokens it is a no-op.
func (l *Ledger) RevokeAll(ctx context.Context, accountID string) error {
	return l.store.RevokeAll(ctx, accountID)
}

func (l *Ledger) generate(accountID string) (string, *RefreshToken, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	opaque := base64.RawURLEncoding.EncodeToString(raw)
	now := l.now().UTC()
	record := &RefreshToken{
		ID:        ids.New(),
		AccountID: accountID,
		TokenHash: HashToken(opaque),
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	return opaque, record, nil
}

// HashToken returns the hex SHA-256 digest stored in place of the opaque value.
func HashToken(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return hex.EncodeToString(sum[:])
}
