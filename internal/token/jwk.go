package token

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"

	"github.com/cookstagram/accounts/pkg/util/base64url"
)

// JWK is the public half of the signing key, as published for services
// which verify access tokens themselves (RFC 7517).
type JWK struct {
	KeyType   string `json:"kty"`
	Curve     string `json:"crv"`
	X         string `json:"x"`
	Y         string `json:"y"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
}

// KeySet is a JWK set document.
type KeySet struct {
	Keys []*JWK `json:"keys"`
}

func newJWK(key *ecdsa.PublicKey) *JWK {
	// P-256 coordinates are always 32 bytes
	x := key.X.FillBytes(make([]byte, 32))
	y := key.Y.FillBytes(make([]byte, 32))
	jwk := &JWK{
		KeyType:   "EC",
		Curve:     "P-256",
		X:         base64url.Encode(x),
		Y:         base64url.Encode(y),
		Use:       "sig",
		Algorithm: "ES256",
	}
	jwk.KeyID = jwk.thumbprint()
	return jwk
}

// thumbprint computes the RFC 7638 thumbprint. Members must be in
// lexicographic order with no whitespace.
func (k *JWK) thumbprint() string {
	canonical := fmt.Sprintf(`{"crv":%q,"kty":%q,"x":%q,"y":%q}`, k.Curve, k.KeyType, k.X, k.Y)
	sum := sha256.Sum256([]byte(canonical))
	return base64url.Encode(sum[:])
}

// KeySet returns the JWK set containing the issuer's public key.
func (i *Issuer) KeySet() *KeySet {
	return &KeySet{Keys: []*JWK{i.jwk}}
}

// KeyID returns the kid header set on issued tokens.
func (i *Issuer) KeyID() string {
	return i.jwk.KeyID
}

// Issuer returns the iss claim set on issued tokens.
func (i *Issuer) Issuer() string {
	return i.issuer
}
