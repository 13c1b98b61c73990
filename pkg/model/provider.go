package model

import "fmt"

// Provider represents the authentication provider an identity was created
// with, i.e. Google or GitHub. Accounts created through email and password
// signup use ProviderSelf.
type Provider string

// Supported authentication providers
const (
	ProviderSelf     Provider = "self"
	ProviderGoogle   Provider = "google"
	ProviderGitHub   Provider = "github"
	ProviderFacebook Provider = "facebook"
	ProviderApple    Provider = "apple"
	ProviderLinkedIn Provider = "linkedin"
)

// AllProviders lists every provider in a stable order.
var AllProviders = []Provider{
	ProviderSelf,
	ProviderGoogle,
	ProviderGitHub,
	ProviderFacebook,
	ProviderApple,
	ProviderLinkedIn,
}

// IsValid returns true if the provider is a known provider.
func (p Provider) IsValid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// IsExternal returns true for third-party identity providers.
func (p Provider) IsExternal() bool {
	return p.IsValid() && p != ProviderSelf
}

// LoginHint is the message shown to a user who tried to log in through the
// wrong provider.
func (p Provider) LoginHint() string {
	if p == ProviderSelf {
		return "use email/password login"
	}
	return fmt.Sprintf("use %s login", p)
}

// ParseProvider converts s into a known provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.IsValid() {
		return "", ValidationFailed(fmt.Sprintf("unknown provider: %q", s), nil)
	}
	return p, nil
}
