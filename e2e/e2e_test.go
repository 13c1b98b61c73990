package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cookstagram/accounts/internal/app"
	"github.com/cookstagram/accounts/internal/auth/provider"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testConfig = `
server:
  corsOrigins:
    - https://app.test
database:
  driver: badger
providers:
  github:
    clientID: gh-client
    clientSecret: gh-secret
    redirectURI: https://accounts.test/auth/github2/callback
frontend:
  loginErrorURL: https://app.test/login/error
`

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// githubServer imitates GitHub's token endpoint, REST API and avatar CDN.
type githubServer struct {
	*httptest.Server

	mu        sync.Mutex
	verifiers []string
}

func newGitHubServer(t *testing.T) *githubServer {
	gs := &githubServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gs.mu.Lock()
		gs.verifiers = append(gs.verifiers, r.PostForm.Get("code_verifier"))
		gs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Write([]byte(`{"access_token":"gh-access","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         4242,
			"login":      "octo",
			"name":       "Octo Cat",
			"avatar_url": gs.URL + "/avatar.png",
		})
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"email": "octo@users.test", "primary": false, "verified": true},
			{"email": "Octo@Example.COM", "primary": true, "verified": true},
		})
	})
	mux.HandleFunc("/avatar.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngImage)
	})
	gs.Server = httptest.NewServer(mux)
	t.Cleanup(gs.Close)
	return gs
}

func (gs *githubServer) lastVerifier() string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if len(gs.verifiers) == 0 {
		return ""
	}
	return gs.verifiers[len(gs.verifiers)-1]
}

type harness struct {
	*httptest.Server
	client *http.Client
}

func newHarness(t *testing.T, gs *githubServer) *harness {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfig), 0600))
	require.NoError(t, config.LoadConfig(dir))

	a, err := app.Open(context.Background(), &config.Current)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	a.Providers = provider.NewRegistry(provider.NewGitHub(
		config.Current.Providers.GitHub,
		provider.WithEndpoint(oauth2.Endpoint{
			AuthURL:   gs.URL + "/authorize",
			TokenURL:  gs.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		provider.WithAPIURL(gs.URL),
	))

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &harness{
		Server: srv,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, accessToken string) *http.Response {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type session struct {
	User      model.Profile   `json:"user"`
	IsNewUser bool            `json:"is_new_user"`
	Tokens    model.TokenPair `json:"tokens"`
}

func TestGitHubRedirectLogin(t *testing.T) {
	gs := newGitHubServer(t)
	h := newHarness(t, gs)

	resp := h.do(t, http.MethodGet, "/auth/github2/login", nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authorize, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, gs.URL+"/authorize", authorize.Scheme+"://"+authorize.Host+authorize.Path)
	query := authorize.Query()
	assert.Equal(t, "gh-client", query.Get("client_id"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(t, query.Get("state"))

	callback := "/auth/github2/callback?" + url.Values{
		"state": {query.Get("state")},
		"code":  {"good-code"},
	}.Encode()
	resp = h.do(t, http.MethodGet, callback, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, gs.lastVerifier())

	var sess session
	decode(t, resp, &sess)
	assert.True(t, sess.IsNewUser)
	assert.Equal(t, "Octo@example.com", sess.User.Email)
	assert.Equal(t, "Octo", sess.User.FirstName)
	assert.Equal(t, "Cat", sess.User.LastName)
	assert.Equal(t, model.ProviderGitHub, sess.User.Provider)

	// The avatar was copied into local media storage
	require.NotEmpty(t, sess.User.ProfilePicture)
	picture, err := url.Parse(sess.User.ProfilePicture)
	require.NoError(t, err)
	key := strings.TrimPrefix(picture.Path, "/media/")
	assert.True(t, strings.HasPrefix(key, "avatars/"+sess.User.ID+"/"), key)
	b, err := os.ReadFile(filepath.Join(config.Current.Media.Dir, key))
	require.NoError(t, err)
	assert.Equal(t, pngImage, b)

	// Replaying the callback fails without touching GitHub
	resp = h.do(t, http.MethodGet, callback, nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	errorPage, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid or expired state", errorPage.Query().Get("error"))

	// The address cannot be claimed by a password signup
	resp = h.do(t, http.MethodPost, "/signup/", map[string]string{
		"email":            "octo@example.com",
		"password":         "a-long-password",
		"confirm_password": "a-long-password",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Logging in again with GitHub returns the same user
	resp = h.do(t, http.MethodPost, "/auth/github/", map[string]string{"code": "good-code"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again session
	decode(t, resp, &again)
	assert.False(t, again.IsNewUser)
	assert.Equal(t, sess.User.ID, again.User.ID)
	assert.Equal(t, sess.User.ProfilePicture, again.User.ProfilePicture)

	resp = h.do(t, http.MethodGet, "/me/", nil, again.Tokens.Access)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/logout/", map[string]string{"refresh": again.Tokens.Refresh}, again.Tokens.Access)
	assert.Equal(t, http.StatusResetContent, resp.StatusCode)
	resp = h.do(t, http.MethodPost, "/token/refresh/", map[string]string{"refresh": again.Tokens.Refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The first session's refresh token is unaffected
	resp = h.do(t, http.MethodPost, "/token/refresh/", map[string]string{"refresh": sess.Tokens.Refresh}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, newGitHubServer(t))

	req, err := http.NewRequest(http.MethodOptions, h.URL+"/me/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPatch)

	req.Header.Set("Origin", "https://evil.test")
	resp2, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestDisabledProvider(t *testing.T) {
	h := newHarness(t, newGitHubServer(t))

	resp := h.do(t, http.MethodGet, "/auth/google2/login/", nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	errorPage, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.test", errorPage.Host)
	assert.Equal(t, `provider "google" is not enabled`, errorPage.Query().Get("error"))

	resp = h.do(t, http.MethodPost, "/auth/google/", map[string]string{"id_token": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
