package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config holds the relying-party settings for an OIDC provider.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Validate checks that the required fields are set.
func (c *Config) Validate() error {
	if c.IssuerURL == "" {
		return errors.New("oidc: issuer URL is required")
	}
	if c.ClientID == "" {
		return errors.New("oidc: client ID is required")
	}
	if c.ClientSecret == "" {
		return errors.New("oidc: client secret is required")
	}
	if c.RedirectURL == "" {
		return errors.New("oidc: redirect URL is required")
	}
	return nil
}

// TokenExchangeError is returned when the provider rejects an
// authorization-code exchange. Code and Description carry the provider's
// OAuth2 error fields when available.
type TokenExchangeError struct {
	Code        string
	Description string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	var b strings.Builder
	b.WriteString("token exchange failed")
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, " (%s)", e.Description)
	}
	if e.Code == "" && e.Description == "" && e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenResponse is the result of a successful authorization-code exchange.
type TokenResponse struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// Provider is an OIDC relying-party client bound to one upstream provider.
type Provider struct {
	cfg      Config
	oauth    oauth2.Config
	issuer   string
	jwksURL  string
	verifier *Verifier
}

// NewProvider discovers the provider's endpoints from its issuer URL and
// prepares the code-exchange client and token verifier.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prov, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := prov.Claims(&meta); err != nil {
		return nil, fmt.Errorf("oidc discovery metadata: %w", err)
	}
	if meta.JWKSURL == "" {
		return nil, errors.New("oidc discovery: provider metadata has no jwks_uri")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     prov.Endpoint(),
			Scopes:       scopes,
		},
		issuer:   cfg.IssuerURL,
		jwksURL:  meta.JWKSURL,
		verifier: NewVerifier(cfg.IssuerURL, cfg.ClientID, meta.JWKSURL),
	}, nil
}

// AuthCodeURL builds the provider authorization URL for the given state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange redeems an authorization code for tokens. Every failure is
// wrapped in *TokenExchangeError; provider error codes are surfaced when
// the provider returned a structured OAuth2 error.
func (p *Provider) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, &TokenExchangeError{Code: "invalid_request", Description: "authorization code is empty"}
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &TokenExchangeError{
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
				Err:         err,
			}
		}
		return nil, &TokenExchangeError{Err: err}
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, &TokenExchangeError{
			Code:        "invalid_response",
			Description: "token response contains no id_token",
		}
	}

	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		IDToken:      idToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		if v, ok := token.Extra("expires_in").(float64); ok {
			resp.ExpiresIn = int64(v)
		}
	}
	return resp, nil
}

// VerifyIDToken validates the identity token's signature and claims against
// this provider.
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken string) (*IdentityClaims, error) {
	return p.verifier.Verify(ctx, rawIDToken)
}

// Verifier returns the provider's identity token verifier.
func (p *Provider) Verifier() *Verifier { return p.verifier }
