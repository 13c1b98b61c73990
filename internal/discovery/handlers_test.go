package discovery

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cookstagram/accounts/internal/auth/provider"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/mock"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*mux.Router, *token.Issuer) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tokens := token.NewIssuer(key, nil, token.WithIssuer("https://accounts.test"))

	registry := provider.NewRegistry(
		mock.NewProvider(model.ProviderGoogle),
		provider.NewGitHub(config.ProviderConfig{ClientID: "gh"}),
	)

	r := mux.NewRouter()
	SetupRoutes(r, "https://accounts.test", tokens, registry)
	return r, tokens
}

func get(t *testing.T, r http.Handler, path string, v interface{}) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestJWKS(t *testing.T) {
	r, tokens := newRouter(t)

	var set token.KeySet
	get(t, r, JWKSEndpoint, &set)
	require.Len(t, set.Keys, 1)
	assert.Equal(t, tokens.KeyID(), set.Keys[0].KeyID)

	// Served from cache on later requests
	var again token.KeySet
	get(t, r, JWKSEndpoint, &again)
	assert.Equal(t, set, again)
}

func TestMetadata(t *testing.T) {
	r, _ := newRouter(t)

	var md Metadata
	get(t, r, DiscoveryEndpoint, &md)
	assert.Equal(t, "https://accounts.test", md.Issuer)
	assert.Equal(t, "https://accounts.test/.well-known/jwks.json", md.JWKSURI)
	assert.Equal(t, []model.Provider{model.ProviderSelf, model.ProviderGitHub, model.ProviderGoogle}, md.Providers)
	assert.Equal(t, []model.Provider{model.ProviderGitHub, model.ProviderGoogle}, md.RedirectLoginEnabled)
}
