package auth

import (
	"context"
	"strings"
)

// Principal is the authenticated caller as established from a validated
// access token. Roles come from the token claims, not a store lookup.
type Principal struct {
	AccountID string
	Email     string
	Roles     []string
}

// HasRole checks a role by name, case-insensitively.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, held := range p.Roles {
		if strings.ToLower(held) == role {
			return true
		}
	}
	return false
}

type ctxKey string

const principalKey ctxKey = "auth_principal"

// ContextWithPrincipal stores the authenticated caller in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || strings.TrimSpace(p.AccountID) == "" {
		return Principal{}, false
	}
	return p, true
}
