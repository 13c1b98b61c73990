package provider

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	appleIssuer  = "https://appleid.apple.com"
	appleKeysURL = "https://appleid.apple.com/auth/keys"

	// Apple accepts client secrets valid for up to six months; a fresh
	// short-lived one is minted per exchange.
	appleClientSecretTTL = 5 * time.Minute
)

var appleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Apple verifies Sign in with Apple ID tokens and drives the Apple web flow.
type Apple struct {
	opts       *options
	config     oauth2.Config
	verifier   *oidc.IDTokenVerifier
	teamID     string
	keyID      string
	privateKey *ecdsa.PrivateKey
}

// NewApple creates an Apple adapter. The team's private key is only needed
// for the redirect flow; ID token verification works without it.
func NewApple(ctx context.Context, cfg config.ProviderConfig, opts ...Option) (*Apple, error) {
	o := newOptions(model.ProviderApple, opts)
	keySet := o.keySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(o.clientContext(context.Background()), appleKeysURL)
	}

	a := &Apple{
		opts:   o,
		teamID: cfg.TeamID,
		keyID:  cfg.KeyID,
		verifier: oidc.NewVerifier(appleIssuer, keySet, &oidc.Config{
			ClientID: cfg.ClientID,
			Now:      o.now,
		}),
		config: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Endpoint:    o.endpointOr(appleEndpoint),
			Scopes:      []string{"name", "email"},
		},
	}

	if cfg.PrivateKeyFile != "" {
		b, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading apple private key")
		}
		a.privateKey, err = jwt.ParseECPrivateKeyFromPEM(b)
		if err != nil {
			return nil, errors.Wrap(err, "parsing apple private key")
		}
	}
	return a, nil
}

// WithPrivateKey sets the key used to sign client secrets.
func (a *Apple) WithPrivateKey(key *ecdsa.PrivateKey) *Apple {
	a.privateKey = key
	return a
}

// Name returns the provider identifier.
func (a *Apple) Name() model.Provider {
	return model.ProviderApple
}

// Verify checks an Apple ID token. Apple never includes the user's name in
// the token; see MergeUser.
func (a *Apple) Verify(ctx context.Context, rawIDToken string) (*model.Claims, error) {
	rawIDToken = strings.TrimSpace(rawIDToken)
	if rawIDToken == "" {
		return nil, a.opts.failed(ctx, "missing apple id token", nil)
	}

	idToken, err := a.verifier.Verify(a.opts.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, a.opts.failed(ctx, "invalid apple id token", err)
	}

	var claims struct {
		Subject       string   `json:"sub"`
		Email         string   `json:"email"`
		EmailVerified flexBool `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, a.opts.failed(ctx, "invalid apple id token claims", err)
	}

	c := &model.Claims{
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		SubjectID:     claims.Subject,
	}
	if err := c.Valid(); err != nil {
		return nil, err
	}
	return c, nil
}

// AuthCodeURL returns the Apple authorization URL. Apple posts the callback
// as a form when name or email scopes are requested, and does not support
// PKCE, so the challenge is ignored.
func (a *Apple) AuthCodeURL(state, codeChallenge string) string {
	return a.config.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

// Exchange trades the callback code for tokens using a freshly signed
// client secret, then verifies the returned ID token.
func (a *Apple) Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error) {
	if code == "" {
		return nil, a.opts.failed(ctx, "missing authorization code", nil)
	}
	secret, err := a.clientSecret()
	if err != nil {
		return nil, a.opts.failed(ctx, "apple login is not configured", err)
	}

	config := a.config
	config.ClientSecret = secret
	token, err := a.opts.exchange(ctx, &config, code, "")
	if err != nil {
		return nil, a.opts.failed(ctx, "apple token exchange failed", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, a.opts.failed(ctx, "apple did not return an id token", nil)
	}
	return a.Verify(ctx, rawIDToken)
}

// clientSecret signs the ES256 JWT Apple expects in place of a static
// client secret.
func (a *Apple) clientSecret() (string, error) {
	if a.privateKey == nil || a.teamID == "" || a.keyID == "" {
		return "", errors.New("apple team id, key id and private key are required")
	}
	now := a.opts.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    a.teamID,
		Subject:   a.config.ClientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appleClientSecretTTL)),
	})
	token.Header["kid"] = a.keyID
	return token.SignedString(a.privateKey)
}

// MergeUser fills in the name from the "user" form field Apple posts on a
// user's first authorization only. Malformed input is ignored.
func MergeUser(c *model.Claims, rawUser string) {
	if c == nil || rawUser == "" {
		return
	}
	var user struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return
	}
	if c.GivenName == "" {
		c.GivenName = user.Name.FirstName
	}
	if c.FamilyName == "" {
		c.FamilyName = user.Name.LastName
	}
}
