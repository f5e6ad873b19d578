package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and verifies salted one-way password digests.
type Hasher interface {
	// Hash returns a self-describing digest; the salt is randomized per call,
	// so hashing the same plaintext twice yields different outputs.
	Hash(password string) (string, error)
	// Verify reports whether plaintext reproduces the digest. Malformed
	// digests verify as false, never as an error.
	Verify(password, hash string) bool
}

// BcryptHasher implements Hasher with bcrypt. The cost is fixed at
// construction; bcrypt embeds salt and cost in the digest and compares in
// constant time.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a Hasher at the given cost. Costs outside bcrypt's
// supported range fall back to the library default, which keeps a single hash
// in the tens-of-milliseconds range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		// bcrypt only reads the first 72 bytes; it refuses longer inputs
		// rather than silently truncating. That is the caller's mistake, not
		// an internal failure.
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password exceeds 72 bytes", ErrInvalidInput)
		}
		return "", err
	}
	return string(digest), nil
}

func (h *BcryptHasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
