// Package provider verifies credentials issued by third-party identity
// providers and normalizes the asserted identity into model.Claims.
// Adapters never create or link accounts.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every outbound call to a provider.
const DefaultTimeout = 5 * time.Second

// maxResponseSize caps provider API responses.
const maxResponseSize = 1 << 20

// Adapter verifies a credential presented directly by a client, such as a
// Google ID token or a GitHub authorization code.
type Adapter interface {
	// Name returns the provider identifier.
	Name() model.Provider

	// Verify checks the credential with the provider and returns the
	// normalized identity. Any failure is an IdentityVerificationFailed
	// error. Calls are never retried.
	Verify(ctx context.Context, credential string) (*model.Claims, error)
}

// RedirectAdapter additionally drives a server-side authorization code flow.
type RedirectAdapter interface {
	Adapter

	// AuthCodeURL returns the provider URL to send the user's browser to.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange trades the callback code for the user's identity.
	Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error)
}

type options struct {
	client   *http.Client
	endpoint *oauth2.Endpoint
	apiURL   string
	keySet   oidc.KeySet
	now      func() time.Time
	name     model.Provider
}

// Option customizes an adapter. The defaults talk to the real provider.
type Option func(*options)

// WithHTTPClient sets the client used for all provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithTimeout bounds provider calls made with the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.client = &http.Client{Timeout: timeout}
	}
}

// WithEndpoint overrides the OAuth authorization and token URLs.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(o *options) {
		o.endpoint = &endpoint
	}
}

// WithAPIURL overrides the base URL of the provider's user API.
func WithAPIURL(url string) Option {
	return func(o *options) {
		o.apiURL = url
	}
}

// WithKeySet overrides the key set ID tokens are verified against.
func WithKeySet(keySet oidc.KeySet) Option {
	return func(o *options) {
		o.keySet = keySet
	}
}

// WithClock sets the time source for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(name model.Provider, opts []Option) *options {
	o := &options{
		client: &http.Client{Timeout: DefaultTimeout},
		now:    time.Now,
		name:   name,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) endpointOr(def oauth2.Endpoint) oauth2.Endpoint {
	if o.endpoint != nil {
		return *o.endpoint
	}
	return def
}

func (o *options) apiURLOr(def string) string {
	if o.apiURL != "" {
		return o.apiURL
	}
	return def
}

// clientContext makes x/oauth2 and go-oidc use the adapter's HTTP client.
func (o *options) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(context.WithValue(ctx, oauth2.HTTPClient, o.client), o.client)
}

// failed logs the underlying cause and returns the client-facing error.
func (o *options) failed(ctx context.Context, msg string, cause error) error {
	if cause != nil {
		logger.FromContext(ctx).Warn("provider verification failed",
			"provider", string(o.name),
			"reason", msg,
			"error", cause,
		)
	}
	return model.IdentityVerificationFailed(msg).WithCause(cause)
}

// getJSON fetches url with a bearer token and decodes the JSON response.
func (o *options) getJSON(ctx context.Context, url, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s (%d): %s", http.StatusText(resp.StatusCode), resp.StatusCode, body)
	}
	return errors.Wrap(json.Unmarshal(body, out), "decoding response")
}

// exchange trades an authorization code for a token, sending the PKCE
// verifier when present.
func (o *options) exchange(ctx context.Context, config *oauth2.Config, code, codeVerifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}
	return config.Exchange(o.clientContext(ctx), code, opts...)
}

// pkceParams returns the authorization URL parameters for an S256 challenge.
func pkceParams(codeChallenge string) []oauth2.AuthCodeOption {
	if codeChallenge == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
}

// flexBool decodes booleans which some providers send as strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*b = true
	case "false", `"false"`, "null", `""`:
		*b = false
	default:
		return fmt.Errorf("invalid boolean: %s", data)
	}
	return nil
}
