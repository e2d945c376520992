package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token errors. Expired is distinct from invalid so that handlers
// can tell a client to re-authenticate rather than treating the token as
// hostile.
var (
	ErrSessionTokenInvalid = errors.New("session token invalid")
	ErrSessionTokenExpired = errors.New("session token expired")
)

// sessionSigningMethod is the only accepted signing algorithm for session
// tokens. Pinning it closes the algorithm-substitution hole where a token
// signed with "none" or an asymmetric key would otherwise parse.
var sessionSigningMethod = jwt.SigningMethodHS256

// SessionClaims are the claims embedded in a docuchat session token. Roles
// are carried as strings so the token stays readable with standard JWT
// tooling.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
}

// TokenService issues and verifies signed session tokens.
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenService creates a TokenService. The secret must be non-empty; the
// lifetime defaults to one hour when zero or negative.
func NewTokenService(secret []byte, issuer, audience string, lifetime time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("session token secret must not be empty")
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &TokenService{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Lifetime returns the configured token lifetime.
func (s *TokenService) Lifetime() time.Duration { return s.lifetime }

// Issue creates a signed session token for the user. It returns the token
// and its expiry.
func (s *TokenService) Issue(user *User) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, ErrInvalidUser
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.lifetime)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:       user.Email,
		Name:        user.Name,
		DisplayName: user.DisplayName,
		Roles:       RolesToStrings(user.Roles),
	}

	signed, err := jwt.NewWithClaims(sessionSigningMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token. It returns
// ErrSessionTokenExpired for a well-formed token past its expiry and
// ErrSessionTokenInvalid for everything else that fails validation.
func (s *TokenService) Verify(raw string) (*SessionClaims, error) {
	if raw == "" {
		return nil, ErrSessionTokenInvalid
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{sessionSigningMethod.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, ErrSessionTokenInvalid
	}
	return claims, nil
}

// RoleList returns the claims' roles as typed roles, dropping anything the
// application no longer recognizes.
func (c *SessionClaims) RoleList() []Role {
	return RolesFromStrings(c.Roles)
}
