package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/cookstagram/accounts/pkg/util/base64url"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publicKeyFromJWK(t *testing.T, jwk *JWK) *ecdsa.PublicKey {
	x, err := base64url.Decode(jwk.X)
	require.NoError(t, err)
	y, err := base64url.Decode(jwk.Y)
	require.NoError(t, err)
	require.Len(t, x, 32)
	require.Len(t, y, 32)
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
}

func TestKeySet(t *testing.T) {
	issuer, _ := newIssuer(t)

	b, err := json.Marshal(issuer.KeySet())
	require.NoError(t, err)
	var set KeySet
	require.NoError(t, json.Unmarshal(b, &set))
	require.Len(t, set.Keys, 1)

	jwk := set.Keys[0]
	assert.Equal(t, "EC", jwk.KeyType)
	assert.Equal(t, "P-256", jwk.Curve)
	assert.Equal(t, "ES256", jwk.Algorithm)
	assert.Equal(t, issuer.KeyID(), jwk.KeyID)
	assert.Len(t, jwk.KeyID, 43)

	// Access tokens verify against the published key alone
	pair, err := issuer.Issue("user-1")
	require.NoError(t, err)
	var claims Claims
	token, err := jwt.ParseWithClaims(pair.Access, &claims, func(token *jwt.Token) (interface{}, error) {
		assert.Equal(t, jwk.KeyID, token.Header["kid"])
		return publicKeyFromJWK(t, jwk), nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestKeyIDStable(t *testing.T) {
	key := newKey(t)
	a := NewIssuer(key, nil)
	b := NewIssuer(key, nil)
	assert.Equal(t, a.KeyID(), b.KeyID())

	other := NewIssuer(newKey(t), nil)
	assert.NotEqual(t, a.KeyID(), other.KeyID())
}
