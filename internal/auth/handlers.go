package auth

import (
	"net/http"
	"strconv"

	"github.com/cookstagram/accounts/internal/account"
	"github.com/cookstagram/accounts/internal/auth/provider"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/internal/oauthstate"
	"github.com/cookstagram/accounts/internal/resolver"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/gorilla/mux"
)

// Account endpoints
const (
	SignupEndpoint  = "/signup/"
	LoginEndpoint   = "/login/"
	LogoutEndpoint  = "/logout/"
	RefreshEndpoint = "/token/refresh/"
	MeEndpoint      = "/me/"
	ProfileEndpoint = "/profile/{id}/"
	AddressEndpoint = "/addr/{id}/"
	ListEndpoint    = "/list/"
	ListDetail      = "/list/{id}/"
	StatsEndpoint   = "/stats/"
	StatsDetail     = "/stats/{id}/"
	AccrueEndpoint  = "/stats/{id}/accrue/"
	HealthEndpoint  = "/healthz"
)

// Dependencies holds everything the HTTP handlers call into.
type Dependencies struct {
	Accounts  *account.Service
	Resolver  *resolver.Resolver
	Tokens    *token.Issuer
	Providers *provider.Registry
	States    oauthstate.Store
	Frontend  config.FrontendConfig

	// AvatarURL resolves stored avatar keys in responses. May be nil.
	AvatarURL model.AvatarURLFunc
}

// SetupRoutes configures routing for the given mux.
func SetupRoutes(r *mux.Router, deps *Dependencies) {
	bearer := NewMiddleware(deps.Tokens).BearerAuthenticated
	accounts := deps.Accounts
	avatarURL := deps.AvatarURL

	r.Handle(HealthEndpoint, healthHandler{}).Methods(http.MethodGet)

	r.Handle(SignupEndpoint, signupHandler{accounts, avatarURL}).Methods(http.MethodPost)
	r.Handle(LoginEndpoint, loginHandler{accounts, avatarURL}).Methods(http.MethodPost)
	r.Handle(LogoutEndpoint, bearer(logoutHandler{accounts})).Methods(http.MethodPost)
	r.Handle(RefreshEndpoint, refreshHandler{accounts}).Methods(http.MethodPost)

	r.Handle(MeEndpoint, bearer(meHandler{accounts, avatarURL})).
		Methods(http.MethodGet, http.MethodPatch, http.MethodDelete)
	r.Handle(ProfileEndpoint, bearer(profileHandler{accounts, avatarURL})).Methods(http.MethodGet)
	r.Handle(AddressEndpoint, bearer(addressHandler{accounts})).Methods(http.MethodGet)

	r.Handle(ListEndpoint, listHandler{accounts, avatarURL}).Methods(http.MethodGet)
	r.Handle(ListDetail, listDetailHandler{accounts, avatarURL}).Methods(http.MethodGet)
	r.Handle(StatsEndpoint, statsHandler{accounts}).Methods(http.MethodGet)
	r.Handle(StatsDetail, statsDetailHandler{accounts}).Methods(http.MethodGet)
	r.Handle(AccrueEndpoint, bearer(accrueHandler{accounts})).Methods(http.MethodPost)

	setupProviderRoutes(r, deps)
}

type healthHandler struct{}

func (healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	Message string           `json:"message"`
	User    *model.Profile   `json:"user"`
	Tokens  *model.TokenPair `json:"tokens"`
}

type signupHandler struct {
	accounts  *account.Service
	avatarURL model.AvatarURLFunc
}

func (h signupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req account.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, tokens, err := h.accounts.Signup(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &sessionResponse{
		Message: "user created successfully",
		User:    user.Profile(h.avatarURL),
		Tokens:  tokens,
	})
}

type loginHandler struct {
	accounts  *account.Service
	avatarURL model.AvatarURLFunc
}

func (h loginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	fields := make(map[string]string)
	if req.Email == "" {
		fields["email"] = "this field is required"
	}
	if req.Password == "" {
		fields["password"] = "this field is required"
	}
	if len(fields) > 0 {
		writeError(w, r, model.ValidationFailed("email and password are required", fields))
		return
	}

	user, tokens, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &sessionResponse{
		Message: "login successful",
		User:    user.Profile(h.avatarURL),
		Tokens:  tokens,
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type logoutHandler struct {
	accounts *account.Service
}

// Logout always succeeds; a refresh token that cannot be revoked is
// already unusable or was never valid.
func (h logoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.FromContext(r.Context()).Info("logout without refresh token", "error", err)
	} else if err := h.accounts.Logout(r.Context(), req.Refresh); err != nil {
		logger.FromContext(r.Context()).Info("refresh token not revoked", "error", err)
	}
	w.WriteHeader(http.StatusResetContent)
}

type refreshHandler struct {
	accounts *account.Service
}

func (h refreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Refresh == "" {
		writeError(w, r, model.ValidationFailed("refresh token is required", map[string]string{
			"refresh": "this field is required",
		}))
		return
	}

	tokens, err := h.accounts.Refresh(r.Context(), req.Refresh)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": tokens.Access})
}

type meHandler struct {
	accounts  *account.Service
	avatarURL model.AvatarURLFunc
}

func (h meHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := userID(r)

	switch r.Method {
	case http.MethodGet:
		user, err := h.accounts.Me(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user.Profile(h.avatarURL))

	case http.MethodPatch:
		var update model.UserUpdate
		if err := decodeJSON(w, r, &update); err != nil {
			writeError(w, r, err)
			return
		}
		user, err := h.accounts.UpdateProfile(r.Context(), id, &update)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user.Profile(h.avatarURL))

	case http.MethodDelete:
		if err := h.accounts.Deactivate(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type profileHandler struct {
	accounts  *account.Service
	avatarURL model.AvatarURLFunc
}

func (h profileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.PublicProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Profile(h.avatarURL))
}

type addressHandler struct {
	accounts *account.Service
}

func (h addressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr, err := h.accounts.Address(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

// parseListOptions reads the is_active, gender and ordering query
// parameters.
func parseListOptions(r *http.Request) (model.ListOptions, error) {
	query := r.URL.Query()
	var opt model.ListOptions

	if v := query.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return opt, model.ValidationFailed("invalid is_active filter", map[string]string{
				"is_active": "must be true or false",
			})
		}
		opt.Filter.IsActive = &active
	}
	opt.Filter.Gender = model.Gender(query.Get("gender"))

	ordering, err := model.ParseOrdering(query.Get("ordering"))
	if err != nil {
		return opt, err
	}
	opt.Ordering = ordering
	return opt, nil
}

type listHandler struct {
	accounts  *account.Service
	avatarURL model.AvatarURLFunc
}

func (h listHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opt, err := parseListOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := h.accounts.List(r.Context(), opt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries := make([]*model.ListEntry, len(users))
	for i, u := range users {
		entries[i] = u.ListEntry(h.avatarURL)
	}
	writeJSON(w, http.StatusOK, entries)
}

type listDetailHandler struct {
	accounts  *account.Service
	avatarURL model.AvatarURLFunc
}

func (h listDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.ListEntry(h.avatarURL))
}

type statsHandler struct {
	accounts *account.Service
}

func (h statsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.accounts.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type statsDetailHandler struct {
	accounts *account.Service
}

func (h statsDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stat, err := h.accounts.Stat(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

// accrueHandler records a purchase against a user's total spend. Only staff
// may call it.
type accrueHandler struct {
	accounts *account.Service
}

func (h accrueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller, err := h.accounts.Me(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !caller.IsStaff {
		writeError(w, r, model.AuthenticationFailed("staff privileges required"))
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.accounts.AccrueSpend(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Stats())
}
