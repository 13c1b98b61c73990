// Package discovery publishes what other services need to trust tokens
// issued here: the signing keys and a description of the login endpoints.
package discovery

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cookstagram/accounts/internal/auth/provider"
	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/gorilla/mux"
)

// Discovery endpoints
const (
	JWKSEndpoint      = "/.well-known/jwks.json"
	DiscoveryEndpoint = "/.well-known/accounts-configuration"
)

// Metadata describes this service to its clients, in the manner of RFC 8414.
type Metadata struct {
	Issuer               string           `json:"issuer"`
	JWKSURI              string           `json:"jwks_uri"`
	SigningAlgorithms    []string         `json:"token_signing_alg_values_supported"`
	Providers            []model.Provider `json:"providers_supported"`
	RedirectLoginEnabled []model.Provider `json:"redirect_login_supported"`
}

// SetupRoutes configures routes for service discovery. baseURL is the
// externally visible URL of the server.
func SetupRoutes(r *mux.Router, baseURL string, tokens *token.Issuer, providers *provider.Registry) {
	r.Handle(JWKSEndpoint, &cachedJSON{load: func() interface{} {
		return tokens.KeySet()
	}}).Methods(http.MethodOptions, http.MethodGet)

	r.Handle(DiscoveryEndpoint, &cachedJSON{load: func() interface{} {
		return describe(baseURL, tokens, providers)
	}}).Methods(http.MethodOptions, http.MethodGet)
}

func describe(baseURL string, tokens *token.Issuer, providers *provider.Registry) *Metadata {
	md := &Metadata{
		Issuer:            tokens.Issuer(),
		JWKSURI:           baseURL + JWKSEndpoint,
		SigningAlgorithms: []string{"ES256"},
		Providers:         []model.Provider{model.ProviderSelf},
	}
	for _, name := range providers.Names() {
		md.Providers = append(md.Providers, name)
		if _, err := providers.Redirect(name); err == nil {
			md.RedirectLoginEnabled = append(md.RedirectLoginEnabled, name)
		}
	}
	return md
}

// cachedJSON serves a document which does not change while the server
// runs. It is encoded on first request.
type cachedJSON struct {
	load func() interface{}

	once sync.Once
	body []byte
	err  error
}

func (h *cachedJSON) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = json.Marshal(h.load())
	})

	if h.err != nil {
		logger.FromContext(r.Context()).Error("Error retrieving metadata", "error", h.err)
		http.Error(w, "Error retrieving metadata", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(h.body)
}
