// Package oidc implements the OpenID Connect relying-party side of
// docuchat: provider discovery, authorization-code exchange, and local
// verification of identity tokens.
package oidc

import "time"

// IdentityClaims are the claims docuchat reads from a verified identity
// token. ObjectID is the provider's stable per-user identifier and is the
// only field the application keys on; everything else is display metadata
// or role input.
type IdentityClaims struct {
	Issuer   string
	Audience []string
	Subject  string
	ObjectID string
	Email    string
	UPN      string
	Name     string
	Roles    []string
	IssuedAt time.Time
	Expiry   time.Time
}

// rawIdentityClaims is the wire shape of the provider-specific claims we
// extract beyond the registered set.
type rawIdentityClaims struct {
	ObjectID string   `json:"oid"`
	Email    string   `json:"email"`
	UPN      string   `json:"preferred_username"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	Groups   []string `json:"groups"`
}

// roleNames merges the roles and groups claims. Some providers deliver
// group membership under "groups" rather than "roles"; the mapper treats
// both as role-mapping input.
func (r *rawIdentityClaims) roleNames() []string {
	if len(r.Groups) == 0 {
		return r.Roles
	}
	out := make([]string, 0, len(r.Roles)+len(r.Groups))
	out = append(out, r.Roles...)
	for _, g := range r.Groups {
		dup := false
		for _, existing := range r.Roles {
			if existing == g {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, g)
		}
	}
	return out
}
