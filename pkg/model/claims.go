package model

import "strings"

// Claims is the provider-independent view of an identity asserted by a
// third-party provider.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	AvatarURL     string `json:"avatar_url"`
	SubjectID     string `json:"subject_id"`
}

// Valid checks the claims are usable for identity resolution.
func (c *Claims) Valid() error {
	if c == nil || strings.TrimSpace(c.Email) == "" {
		return IdentityVerificationFailed("provider did not return an email address")
	}
	if !c.EmailVerified {
		return IdentityVerificationFailed("provider email address is not verified")
	}
	if c.SubjectID == "" {
		return IdentityVerificationFailed("provider did not return a subject identifier")
	}
	return nil
}

// SplitName splits a display name into given and family names on the
// first space.
func SplitName(name string) (given, family string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	given = parts[0]
	if len(parts) == 2 {
		family = strings.TrimSpace(parts[1])
	}
	return
}

// TokenPair is the access and refresh credential pair issued on login.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenType distinguishes access and refresh tokens.
type TokenType string

// Token types
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)
