package base64url

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Encode encodes the given bytes using strict base64url encoding.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode decodes the given string using strict base64url encoding.
func Decode(str string) ([]byte, error) {
	return base64.RawURLEncoding.Strict().DecodeString(str)
}

// Random returns n random bytes from crypto/rand, base64url encoded.
func Random(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Encode(b), nil
}

// SHA256 returns the base64url encoded SHA-256 digest of s. This is the
// S256 code challenge transform from RFC 7636.
func SHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return Encode(sum[:])
}
