package auth

import (
	"context"
	"sort"
	"time"

	"docuchat/internal/auth/oidc"
)

// RoleMapping maps identity-provider group or role names to application
// roles. Many provider groups may map to the same role; provider groups
// without an entry are ignored.
type RoleMapping map[string]Role

// DefaultRoleMapping is the mapping used when the deployment does not
// configure one.
var DefaultRoleMapping = RoleMapping{
	"AdminGroup":  RoleAdmin,
	"EditorGroup": RoleEditor,
	"ViewerGroup": RoleViewer,
}

// Mapper translates verified identity claims into an application user and
// keeps the user store in sync on each login.
type Mapper struct {
	mapping     RoleMapping
	defaultRole Role
	store       UserStore
	now         func() time.Time
}

// NewMapper creates a Mapper. A nil mapping falls back to
// DefaultRoleMapping; an invalid defaultRole falls back to RoleViewer, the
// least-privileged role.
func NewMapper(mapping RoleMapping, defaultRole Role, store UserStore) *Mapper {
	if mapping == nil {
		mapping = DefaultRoleMapping
	}
	if !IsValidRole(defaultRole) {
		defaultRole = RoleViewer
	}
	return &Mapper{
		mapping:     mapping,
		defaultRole: defaultRole,
		store:       store,
		now:         time.Now,
	}
}

// MapRoles translates provider role names into application roles. Unmapped
// names are dropped; duplicates collapse to one entry; the result is sorted
// for determinism. A user with no mapped roles receives the default role so
// that every authenticated user lands somewhere defined.
func (m *Mapper) MapRoles(providerRoles []string) []Role {
	seen := make(map[Role]struct{})
	for _, name := range providerRoles {
		role, ok := m.mapping[name]
		if !ok || !IsValidRole(role) {
			continue
		}
		seen[role] = struct{}{}
	}
	if len(seen) == 0 {
		return []Role{m.defaultRole}
	}
	roles := make([]Role, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// SyncUser maps the verified claims to a user record and upserts it,
// stamping the login time. The returned user reflects stored state, so a
// deactivated account comes back with IsActive=false and the caller must
// refuse it.
func (m *Mapper) SyncUser(ctx context.Context, claims *oidc.IdentityClaims) (*User, error) {
	if claims == nil || claims.ObjectID == "" {
		return nil, ErrInvalidUser
	}

	loginAt := m.now().UTC()
	user := &User{
		ID:          claims.ObjectID,
		Email:       claims.Email,
		Name:        claims.Name,
		DisplayName: claims.Name,
		Roles:       m.MapRoles(claims.Roles),
		ProviderOID: claims.ObjectID,
		ProviderUPN: claims.UPN,
		LastLoginAt: &loginAt,
	}
	if user.Email == "" {
		user.Email = claims.UPN
	}

	stored, err := m.store.Upsert(ctx, user)
	if err != nil {
		return nil, err
	}
	if !stored.IsActive {
		return nil, ErrUserDisabled
	}
	return stored, nil
}
