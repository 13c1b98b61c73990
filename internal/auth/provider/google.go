package provider

import (
	"context"
	"strings"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleKeysURL = "https://www.googleapis.com/oauth2/v3/certs"

// Google issues ID tokens with either form of its issuer.
var googleIssuers = map[string]bool{
	"https://accounts.google.com": true,
	"accounts.google.com":         true,
}

// Google verifies Google ID tokens and drives the Google OAuth flow.
type Google struct {
	opts     *options
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle creates a Google adapter. Signing keys are fetched lazily on
// first verification.
func NewGoogle(ctx context.Context, cfg config.ProviderConfig, opts ...Option) *Google {
	o := newOptions(model.ProviderGoogle, opts)
	keySet := o.keySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(o.clientContext(context.Background()), googleKeysURL)
	}
	verifier := oidc.NewVerifier("https://accounts.google.com", keySet, &oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: true,
		Now:             o.now,
	})
	return &Google{
		opts:     o,
		verifier: verifier,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     o.endpointOr(google.Endpoint),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}
}

// Name returns the provider identifier.
func (g *Google) Name() model.Provider {
	return model.ProviderGoogle
}

// Verify checks a Google ID token's signature, audience and expiry.
func (g *Google) Verify(ctx context.Context, rawIDToken string) (*model.Claims, error) {
	rawIDToken = strings.TrimSpace(rawIDToken)
	if rawIDToken == "" {
		return nil, g.opts.failed(ctx, "missing google id token", nil)
	}

	idToken, err := g.verifier.Verify(g.opts.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, g.opts.failed(ctx, "invalid google id token", err)
	}
	if !googleIssuers[idToken.Issuer] {
		return nil, g.opts.failed(ctx, "invalid google id token", nil)
	}

	var claims struct {
		Subject       string   `json:"sub"`
		Email         string   `json:"email"`
		EmailVerified flexBool `json:"email_verified"`
		GivenName     string   `json:"given_name"`
		FamilyName    string   `json:"family_name"`
		Picture       string   `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, g.opts.failed(ctx, "invalid google id token claims", err)
	}

	c := &model.Claims{
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		AvatarURL:     claims.Picture,
		SubjectID:     claims.Subject,
	}
	if err := c.Valid(); err != nil {
		return nil, err
	}
	return c, nil
}

// AuthCodeURL returns the Google consent URL. Offline access and account
// selection are always requested.
func (g *Google) AuthCodeURL(state, codeChallenge string) string {
	opts := append([]oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}, pkceParams(codeChallenge)...)
	return g.config.AuthCodeURL(state, opts...)
}

// Exchange trades the callback code for tokens and verifies the returned
// ID token.
func (g *Google) Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error) {
	if code == "" {
		return nil, g.opts.failed(ctx, "missing authorization code", nil)
	}
	token, err := g.opts.exchange(ctx, g.config, code, codeVerifier)
	if err != nil {
		return nil, g.opts.failed(ctx, "google token exchange failed", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, g.opts.failed(ctx, "google did not return an id token", nil)
	}
	return g.Verify(ctx, rawIDToken)
}
