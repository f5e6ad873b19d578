package auth

import "errors"

var (
	// ErrInvalidInput marks caller-correctable validation failures.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrConflict marks duplicate registration or duplicate role assignment.
	ErrConflict = errors.New("auth: already exists")
	// ErrNotFound marks missing accounts or roles in admin lookups.
	ErrNotFound = errors.New("auth: not found")
	// ErrInvalidCredentials is the single outcome for unknown email, inactive
	// account, and password mismatch. Callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken is the single outcome for every access or refresh token
	// failure: bad signature, wrong issuer or audience, expired, revoked,
	// malformed, unknown.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrResetUnsupported marks the password-reset confirmation stub.
	ErrResetUnsupported = errors.New("auth: password reset by token is not supported")
)
