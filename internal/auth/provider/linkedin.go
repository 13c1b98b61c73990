package provider

import (
	"context"
	"strings"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"
)

const linkedinAPIURL = "https://api.linkedin.com"

// LinkedIn exchanges Sign In with LinkedIn codes and reads the OpenID
// Connect userinfo endpoint.
type LinkedIn struct {
	opts   *options
	config *oauth2.Config
	apiURL string
}

// NewLinkedIn creates a LinkedIn adapter.
func NewLinkedIn(cfg config.ProviderConfig, opts ...Option) *LinkedIn {
	o := newOptions(model.ProviderLinkedIn, opts)
	return &LinkedIn{
		opts:   o,
		apiURL: strings.TrimRight(o.apiURLOr(linkedinAPIURL), "/"),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     o.endpointOr(linkedin.Endpoint),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}
}

// Name returns the provider identifier.
func (l *LinkedIn) Name() model.Provider {
	return model.ProviderLinkedIn
}

// Verify treats the credential as an authorization code.
func (l *LinkedIn) Verify(ctx context.Context, code string) (*model.Claims, error) {
	return l.Exchange(ctx, strings.TrimSpace(code), "")
}

// AuthCodeURL returns the LinkedIn authorization URL.
func (l *LinkedIn) AuthCodeURL(state, codeChallenge string) string {
	return l.config.AuthCodeURL(state, pkceParams(codeChallenge)...)
}

// Exchange trades the code for an access token and reads /v2/userinfo.
func (l *LinkedIn) Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error) {
	if code == "" {
		return nil, l.opts.failed(ctx, "missing authorization code", nil)
	}
	token, err := l.opts.exchange(ctx, l.config, code, codeVerifier)
	if err != nil {
		return nil, l.opts.failed(ctx, "linkedin token exchange failed", err)
	}

	var info struct {
		Subject       string   `json:"sub"`
		Email         string   `json:"email"`
		EmailVerified flexBool `json:"email_verified"`
		GivenName     string   `json:"given_name"`
		FamilyName    string   `json:"family_name"`
		Picture       string   `json:"picture"`
	}
	if err := l.opts.getJSON(ctx, l.apiURL+"/v2/userinfo", token.AccessToken, &info); err != nil {
		return nil, l.opts.failed(ctx, "failed to fetch linkedin profile", err)
	}

	c := &model.Claims{
		Email:         info.Email,
		EmailVerified: bool(info.EmailVerified),
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		AvatarURL:     info.Picture,
		SubjectID:     info.Subject,
	}
	if err := c.Valid(); err != nil {
		return nil, err
	}
	return c, nil
}
