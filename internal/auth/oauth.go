package auth

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cookstagram/accounts/internal/auth/provider"
	"github.com/cookstagram/accounts/internal/oauthstate"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Provider login endpoints
const (
	GoogleEndpoint         = "/auth/google/"
	GoogleLoginEndpoint    = "/auth/google2/login/"
	GoogleCallbackEndpoint = "/auth/google2/callback/"

	GitHubEndpoint         = "/auth/github/"
	GitHubLoginEndpoint    = "/auth/github2/login"
	GitHubCallbackEndpoint = "/auth/github2/callback"

	AppleLoginEndpoint    = "/auth/apple/login/"
	AppleCallbackEndpoint = "/auth/apple/callback/"

	FacebookEndpoint      = "/auth/facebook/"
	FacebookLoginEndpoint = "/auth/facebook/login/"
	LinkedInEndpoint      = "/auth/linkedin/"
	LinkedInLoginEndpoint = "/auth/linkedin/login/"

	paramCode             = "code"
	paramState            = "state"
	paramIDToken          = "id_token"
	paramError            = "error"
	paramErrorDescription = "error_description"
	paramAppleUser        = "user"
)

func setupProviderRoutes(r *mux.Router, deps *Dependencies) {
	login := func(p model.Provider) http.Handler {
		return redirectLoginHandler{deps, p}
	}
	callback := func(p model.Provider, requireState bool) http.Handler {
		return SuppressReferrer(callbackHandler{deps, p, requireState})
	}

	r.Handle(GoogleEndpoint, credentialHandler{deps, model.ProviderGoogle, paramIDToken}).Methods(http.MethodPost)
	r.Handle(GoogleLoginEndpoint, login(model.ProviderGoogle)).Methods(http.MethodGet)
	r.Handle(GoogleCallbackEndpoint, callback(model.ProviderGoogle, true)).Methods(http.MethodGet)

	r.Handle(GitHubEndpoint, credentialHandler{deps, model.ProviderGitHub, paramCode}).Methods(http.MethodPost)
	r.Handle(GitHubLoginEndpoint, login(model.ProviderGitHub)).Methods(http.MethodGet)
	r.Handle(GitHubCallbackEndpoint, callback(model.ProviderGitHub, true)).Methods(http.MethodGet)

	// Apple posts the callback as a form when scopes are requested
	r.Handle(AppleLoginEndpoint, login(model.ProviderApple)).Methods(http.MethodGet, http.MethodPost)
	r.Handle(AppleCallbackEndpoint, callback(model.ProviderApple, true)).Methods(http.MethodGet, http.MethodPost)

	// The frontend may start these flows itself, in which case no state is
	// stored here.
	r.Handle(FacebookLoginEndpoint, login(model.ProviderFacebook)).Methods(http.MethodGet)
	r.Handle(FacebookEndpoint, callback(model.ProviderFacebook, false)).Methods(http.MethodGet)
	r.Handle(LinkedInLoginEndpoint, login(model.ProviderLinkedIn)).Methods(http.MethodGet)
	r.Handle(LinkedInEndpoint, callback(model.ProviderLinkedIn, false)).Methods(http.MethodGet)
}

type authResponse struct {
	User      *model.Profile   `json:"user"`
	IsNewUser bool             `json:"is_new_user"`
	Tokens    *model.TokenPair `json:"tokens"`
}

// completeLogin resolves verified claims to a user and issues tokens.
func completeLogin(ctx context.Context, deps *Dependencies, p model.Provider, claims *model.Claims) (*authResponse, error) {
	user, created, err := deps.Resolver.Resolve(ctx, p, claims)
	if err != nil {
		return nil, err
	}
	tokens, err := deps.Tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &authResponse{
		User:      user.Profile(deps.AvatarURL),
		IsNewUser: created,
		Tokens:    tokens,
	}, nil
}

// credentialHandler accepts a provider credential obtained by the client,
// such as a Google ID token or a GitHub authorization code, in a JSON body.
type credentialHandler struct {
	deps     *Dependencies
	provider model.Provider
	field    string
}

func (h credentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	adapter, err := h.deps.Providers.Get(h.provider)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body map[string]interface{}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	credential, _ := body[h.field].(string)
	if credential == "" {
		writeError(w, r, model.ValidationFailed(h.field+" is required", map[string]string{
			h.field: "this field is required",
		}))
		return
	}

	claims, err := adapter.Verify(r.Context(), credential)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := completeLogin(r.Context(), h.deps, h.provider, claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// redirectLoginHandler stores a fresh state and sends the browser to the
// provider's consent page.
type redirectLoginHandler struct {
	deps     *Dependencies
	provider model.Provider
}

func (h redirectLoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	errorURL := h.deps.Frontend.LoginErrorURL

	adapter, err := h.deps.Providers.Redirect(h.provider)
	if err != nil {
		redirectError(w, r, errorURL, err)
		return
	}

	state, err := oauthstate.New(h.provider)
	if err != nil {
		redirectError(w, r, errorURL, err)
		return
	}
	if err := h.deps.States.Save(r.Context(), state, oauthstate.DefaultTTL); err != nil {
		redirectError(w, r, errorURL, errors.Wrap(err, "saving state"))
		return
	}

	http.Redirect(w, r, adapter.AuthCodeURL(state.ID, state.CodeChallenge()), http.StatusFound)
}

// callbackHandler completes a redirect flow. All failures send the browser
// to the frontend's error page.
type callbackHandler struct {
	deps         *Dependencies
	provider     model.Provider
	requireState bool
}

func (h callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	errorURL := h.deps.Frontend.LoginErrorURL

	if err := r.ParseForm(); err != nil {
		redirectError(w, r, errorURL, model.ValidationFailed("malformed callback", nil).WithCause(err))
		return
	}
	if reason := r.Form.Get(paramError); reason != "" {
		msg := r.Form.Get(paramErrorDescription)
		if msg == "" {
			msg = reason
		}
		redirectError(w, r, errorURL, model.IdentityVerificationFailed(msg))
		return
	}

	adapter, err := h.deps.Providers.Redirect(h.provider)
	if err != nil {
		redirectError(w, r, errorURL, err)
		return
	}

	var codeVerifier string
	if stateID := r.Form.Get(paramState); stateID != "" || h.requireState {
		state, err := h.consumeState(r.Context(), stateID)
		if err != nil {
			redirectError(w, r, errorURL, err)
			return
		}
		codeVerifier = state.CodeVerifier
	}

	code := r.Form.Get(paramCode)
	if code == "" {
		redirectError(w, r, errorURL, model.IdentityVerificationFailed("missing authorization code"))
		return
	}
	claims, err := adapter.Exchange(r.Context(), code, codeVerifier)
	if err != nil {
		redirectError(w, r, errorURL, err)
		return
	}
	if h.provider == model.ProviderApple {
		provider.MergeUser(claims, r.Form.Get(paramAppleUser))
	}

	resp, err := completeLogin(r.Context(), h.deps, h.provider, claims)
	if err != nil {
		redirectError(w, r, errorURL, err)
		return
	}
	h.success(w, r, resp)
}

func (h callbackHandler) consumeState(ctx context.Context, id string) (*oauthstate.State, error) {
	if id == "" {
		return nil, model.IdentityVerificationFailed("missing state")
	}
	state, err := h.deps.States.Consume(ctx, id)
	if errors.Is(err, oauthstate.ErrStateNotFound) {
		return nil, model.IdentityVerificationFailed("invalid or expired state")
	}
	if err != nil {
		return nil, errors.Wrap(err, "consuming state")
	}
	if state.Provider != h.provider {
		return nil, model.IdentityVerificationFailed("invalid or expired state")
	}
	return state, nil
}

func (h callbackHandler) success(w http.ResponseWriter, r *http.Request, resp *authResponse) {
	frontend := h.deps.Frontend
	if !frontend.RedirectOnSuccess || frontend.LoginSuccessURL == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	uri, err := url.Parse(frontend.LoginSuccessURL)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "parsing login success url"))
		return
	}
	query := uri.Query()
	query.Set("access", resp.Tokens.Access)
	query.Set("refresh", resp.Tokens.Refresh)
	query.Set("is_new", strconv.FormatBool(resp.IsNewUser))
	uri.RawQuery = query.Encode()
	http.Redirect(w, r, uri.String(), http.StatusFound)
}
