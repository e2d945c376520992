package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Identity token verification errors. ErrUnknownSigningKey means the token
// names a key ID the provider's JWKS does not contain even after a fresh
// fetch; everything else that fails validation maps to
// ErrIdentityTokenInvalid.
var (
	ErrIdentityTokenInvalid = errors.New("identity token invalid")
	ErrUnknownSigningKey    = errors.New("identity token signed with unknown key")
)

// allowedSigningAlgorithms pins the signature algorithms accepted on
// identity tokens. Tokens using any other algorithm, including "none", are
// rejected at parse time.
var allowedSigningAlgorithms = []jose.SignatureAlgorithm{jose.RS256}

const (
	defaultKeyCacheTTL  = 1 * time.Hour
	jwksFetchTimeout    = 10 * time.Second
	jwksMaxResponseSize = 1 << 20 // 1 MiB
)

// keyCache caches the provider's JWKS. A cached set is served until its TTL
// lapses; refresh replaces the whole set atomically so a key rotation never
// leaves a half-updated view.
type keyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
}

func newKeyCache(url string, ttl time.Duration, client *http.Client) *keyCache {
	if ttl <= 0 {
		ttl = defaultKeyCacheTTL
	}
	if client == nil {
		client = &http.Client{Timeout: jwksFetchTimeout}
	}
	return &keyCache{
		url:    url,
		ttl:    ttl,
		client: client,
		now:    time.Now,
	}
}

// get returns the signing key for kid. When the cached set is missing,
// stale, or lacks the kid, the cache refreshes once from the provider; a
// kid still absent after that refresh is an unknown key.
func (c *keyCache) get(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := c.keys != nil && c.now().Sub(c.fetchedAt) < c.ttl
	if fresh {
		if key := findKey(c.keys, kid); key != nil {
			return key, nil
		}
	}

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if key := findKey(c.keys, kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownSigningKey, kid)
}

// refreshLocked fetches the key set, retrying once on a transient failure.
// The fetch is read-only and idempotent, so a single retry is safe.
func (c *keyCache) refreshLocked(ctx context.Context) error {
	retryable, err := c.fetchLocked(ctx)
	if err != nil && retryable && ctx.Err() == nil {
		_, err = c.fetchLocked(ctx)
	}
	return err
}

func (c *keyCache) fetchLocked(ctx context.Context) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode >= http.StatusInternalServerError,
			fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, jwksMaxResponseSize)).Decode(&keySet); err != nil {
		return false, fmt.Errorf("decode jwks: %w", err)
	}

	c.keys = &keySet
	c.fetchedAt = c.now()
	return false, nil
}

func findKey(set *jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	if set == nil {
		return nil
	}
	for i := range set.Keys {
		k := &set.Keys[i]
		if k.KeyID == kid && (k.Use == "" || k.Use == "sig") {
			return k
		}
	}
	return nil
}

// Verifier validates identity tokens issued by one OIDC provider: pinned
// signature algorithm, key lookup by kid against the cached JWKS, and
// issuer/audience/time claim checks.
type Verifier struct {
	issuer   string
	clientID string
	keys     *keyCache
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier creates a Verifier for the given issuer and client, fetching
// signing keys from jwksURL.
func NewVerifier(issuer, clientID, jwksURL string) *Verifier {
	return &Verifier{
		issuer:   issuer,
		clientID: clientID,
		keys:     newKeyCache(jwksURL, defaultKeyCacheTTL, nil),
		leeway:   jwt.DefaultLeeway,
		now:      time.Now,
	}
}

// Verify parses the raw identity token, checks its signature against the
// provider's JWKS, and validates the registered claims. On success it
// returns the extracted identity claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*IdentityClaims, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrIdentityTokenInvalid)
	}

	tok, err := jwt.ParseSigned(rawToken, allowedSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityTokenInvalid, err)
	}
	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one signature", ErrIdentityTokenInvalid)
	}

	kid := tok.Headers[0].KeyID
	if kid == "" {
		return nil, fmt.Errorf("%w: token header has no kid", ErrIdentityTokenInvalid)
	}

	key, err := v.keys.get(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrUnknownSigningKey) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentityTokenInvalid, err)
	}

	var std jwt.Claims
	var extra rawIdentityClaims
	if err := tok.Claims(key, &std, &extra); err != nil {
		return nil, fmt.Errorf("%w: signature verification failed: %v", ErrIdentityTokenInvalid, err)
	}

	err = std.ValidateWithLeeway(jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.clientID},
		Time:        v.now(),
	}, v.leeway)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return nil, fmt.Errorf("%w: token expired", ErrIdentityTokenInvalid)
		case errors.Is(err, jwt.ErrNotValidYet):
			return nil, fmt.Errorf("%w: token not valid yet", ErrIdentityTokenInvalid)
		case errors.Is(err, jwt.ErrInvalidIssuer):
			return nil, fmt.Errorf("%w: issuer mismatch", ErrIdentityTokenInvalid)
		case errors.Is(err, jwt.ErrInvalidAudience):
			return nil, fmt.Errorf("%w: audience mismatch", ErrIdentityTokenInvalid)
		default:
			return nil, fmt.Errorf("%w: %v", ErrIdentityTokenInvalid, err)
		}
	}

	if extra.ObjectID == "" {
		return nil, fmt.Errorf("%w: token has no oid claim", ErrIdentityTokenInvalid)
	}

	claims := &IdentityClaims{
		Issuer:   std.Issuer,
		Audience: []string(std.Audience),
		Subject:  std.Subject,
		ObjectID: extra.ObjectID,
		Email:    extra.Email,
		UPN:      extra.UPN,
		Name:     extra.Name,
		Roles:    extra.roleNames(),
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	return claims, nil
}
