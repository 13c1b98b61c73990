package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIURL = "https://api.github.com"

// GitHub exchanges GitHub authorization codes and reads the user's profile
// and verified email addresses.
type GitHub struct {
	opts   *options
	config *oauth2.Config
	apiURL string
}

// NewGitHub creates a GitHub adapter.
func NewGitHub(cfg config.ProviderConfig, opts ...Option) *GitHub {
	o := newOptions(model.ProviderGitHub, opts)
	return &GitHub{
		opts:   o,
		apiURL: strings.TrimRight(o.apiURLOr(githubAPIURL), "/"),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     o.endpointOr(github.Endpoint),
			Scopes:       []string{"read:user", "user:email"},
		},
	}
}

// Name returns the provider identifier.
func (g *GitHub) Name() model.Provider {
	return model.ProviderGitHub
}

// Verify treats the credential as an authorization code obtained by the
// client without PKCE.
func (g *GitHub) Verify(ctx context.Context, code string) (*model.Claims, error) {
	return g.Exchange(ctx, strings.TrimSpace(code), "")
}

// AuthCodeURL returns the GitHub authorization URL.
func (g *GitHub) AuthCodeURL(state, codeChallenge string) string {
	opts := append([]oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("allow_signup", "true"),
	}, pkceParams(codeChallenge)...)
	return g.config.AuthCodeURL(state, opts...)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades the code for an access token, then reads /user and
// /user/emails. The primary verified address wins; the public profile
// email is only used if GitHub lists it as verified.
func (g *GitHub) Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error) {
	if code == "" {
		return nil, g.opts.failed(ctx, "missing authorization code", nil)
	}
	token, err := g.opts.exchange(ctx, g.config, code, codeVerifier)
	if err != nil {
		return nil, g.opts.failed(ctx, "github token exchange failed", err)
	}

	var user githubUser
	if err := g.opts.getJSON(ctx, g.apiURL+"/user", token.AccessToken, &user); err != nil {
		return nil, g.opts.failed(ctx, "failed to fetch github profile", err)
	}
	if user.ID == 0 {
		return nil, g.opts.failed(ctx, "github profile has no id", nil)
	}

	var emails []githubEmail
	if err := g.opts.getJSON(ctx, g.apiURL+"/user/emails", token.AccessToken, &emails); err != nil {
		return nil, g.opts.failed(ctx, "failed to fetch github emails", err)
	}

	given, family := model.SplitName(user.Name)
	if given == "" {
		given = user.Login
	}
	c := &model.Claims{
		GivenName:  given,
		FamilyName: family,
		AvatarURL:  user.AvatarURL,
		SubjectID:  strconv.FormatInt(user.ID, 10),
	}
	c.Email, c.EmailVerified = pickGitHubEmail(user.Email, emails)
	if err := c.Valid(); err != nil {
		return nil, err
	}
	return c, nil
}

func pickGitHubEmail(profileEmail string, emails []githubEmail) (string, bool) {
	var fallback string
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, true
		}
		if strings.EqualFold(e.Email, profileEmail) {
			fallback = e.Email
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return profileEmail, false
}
