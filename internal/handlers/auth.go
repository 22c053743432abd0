package handlers

import (
	"net/http"
	"slices"
	"strings"
)

// Headers set by the upstream gateway after it has verified the session.
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserRole  = "X-User-Role"
)

// RoleAdmin is the role that grants admin access.
const RoleAdmin = "admin"

// HeaderAuth trusts identity headers injected by the gateway in front of the
// service. It implements IdentityResolver, CodeExchanger and AdminChecker.
type HeaderAuth struct {
	adminEmails []string
}

// NewHeaderAuth creates a HeaderAuth. Users whose address is in adminEmails
// are admins regardless of their role header.
func NewHeaderAuth(adminEmails []string) *HeaderAuth {
	emails := make([]string, 0, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails = append(emails, e)
		}
	}
	return &HeaderAuth{adminEmails: emails}
}

// Resolve reads the identity headers.
func (a *HeaderAuth) Resolve(r *http.Request) (*Identity, error) {
	addr := strings.TrimSpace(r.Header.Get(HeaderUserEmail))
	if addr == "" {
		return nil, ErrUnauthenticated
	}
	return &Identity{
		Email: addr,
		Name:  strings.TrimSpace(r.Header.Get(HeaderUserName)),
		Role:  strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
	}, nil
}

// ExchangeCode relies on the gateway having redeemed the code; the verified
// user arrives in the identity headers.
func (a *HeaderAuth) ExchangeCode(r *http.Request, _ string) (*Identity, error) {
	return a.Resolve(r)
}

// IsAdmin reports whether id has the admin role or an allow-listed address.
func (a *HeaderAuth) IsAdmin(id *Identity) bool {
	if id == nil {
		return false
	}
	if id.Role == RoleAdmin {
		return true
	}
	return slices.Contains(a.adminEmails, strings.ToLower(id.Email))
}

var (
	_ IdentityResolver = (*HeaderAuth)(nil)
	_ CodeExchanger    = (*HeaderAuth)(nil)
	_ AdminChecker     = (*HeaderAuth)(nil)
)
