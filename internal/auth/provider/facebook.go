package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const facebookGraphURL = "https://graph.facebook.com/v19.0"

// Facebook exchanges Facebook Login codes and reads the Graph API profile.
type Facebook struct {
	opts     *options
	config   *oauth2.Config
	graphURL string
}

// NewFacebook creates a Facebook adapter.
func NewFacebook(cfg config.ProviderConfig, opts ...Option) *Facebook {
	o := newOptions(model.ProviderFacebook, opts)
	return &Facebook{
		opts:     o,
		graphURL: strings.TrimRight(o.apiURLOr(facebookGraphURL), "/"),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     o.endpointOr(facebook.Endpoint),
			Scopes:       []string{"email", "public_profile"},
		},
	}
}

// Name returns the provider identifier.
func (f *Facebook) Name() model.Provider {
	return model.ProviderFacebook
}

// Verify treats the credential as an authorization code.
func (f *Facebook) Verify(ctx context.Context, code string) (*model.Claims, error) {
	return f.Exchange(ctx, strings.TrimSpace(code), "")
}

// AuthCodeURL returns the Facebook Login dialog URL.
func (f *Facebook) AuthCodeURL(state, codeChallenge string) string {
	return f.config.AuthCodeURL(state, pkceParams(codeChallenge)...)
}

type facebookProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   struct {
		Data struct {
			URL          string `json:"url"`
			IsSilhouette bool   `json:"is_silhouette"`
		} `json:"data"`
	} `json:"picture"`
}

// Exchange trades the code for an access token and reads /me. Facebook only
// returns confirmed email addresses, so a present email is verified.
func (f *Facebook) Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error) {
	if code == "" {
		return nil, f.opts.failed(ctx, "missing authorization code", nil)
	}
	token, err := f.opts.exchange(ctx, f.config, code, codeVerifier)
	if err != nil {
		return nil, f.opts.failed(ctx, "facebook token exchange failed", err)
	}

	query := url.Values{}
	query.Set("fields", "id,email,first_name,last_name,picture.type(large)")
	var profile facebookProfile
	if err := f.opts.getJSON(ctx, f.graphURL+"/me?"+query.Encode(), token.AccessToken, &profile); err != nil {
		return nil, f.opts.failed(ctx, "failed to fetch facebook profile", err)
	}

	c := &model.Claims{
		Email:         profile.Email,
		EmailVerified: profile.Email != "",
		GivenName:     profile.FirstName,
		FamilyName:    profile.LastName,
		SubjectID:     profile.ID,
	}
	if !profile.Picture.Data.IsSilhouette {
		c.AvatarURL = profile.Picture.Data.URL
	}
	if err := c.Valid(); err != nil {
		return nil, err
	}
	return c, nil
}
