// Package auth provides principals, the per-entity authorization gate, and
// the credential checks used to establish a principal for a request.
package auth

import (
	"context"
	"slices"
)

// Principal is the authenticated caller
type Principal struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the given role.
// A nil principal has no roles.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, role)
}

// NameOf returns the principal name, or an empty string for anonymous callers
func NameOf(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.Name
}

type contextKey struct{}

// WithPrincipal returns a context carrying the principal
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal stored in the context, or nil
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
