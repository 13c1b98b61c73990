package mock

import (
	"context"
	"net/url"
	"sync"

	"github.com/cookstagram/accounts/pkg/model"
)

// Provider is an in-memory identity provider. Credentials and codes map
// directly to the claims they assert.
type Provider struct {
	name model.Provider

	mu         sync.Mutex
	identities map[string]*model.Claims
	verifiers  []string
}

// NewProvider creates a Provider which reports itself as name.
func NewProvider(name model.Provider) *Provider {
	return &Provider{
		name:       name,
		identities: make(map[string]*model.Claims),
	}
}

// Add registers claims for a credential or authorization code.
func (p *Provider) Add(credential string, claims *model.Claims) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[credential] = claims
}

// Verifiers returns the PKCE verifiers passed to Exchange, in order.
func (p *Provider) Verifiers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.verifiers...)
}

func (p *Provider) Name() model.Provider {
	return p.name
}

func (p *Provider) Verify(ctx context.Context, credential string) (*model.Claims, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	claims, ok := p.identities[credential]
	if !ok {
		return nil, model.IdentityVerificationFailed("invalid " + string(p.name) + " credential")
	}
	c := *claims
	if err := c.Valid(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	query := url.Values{}
	query.Set("state", state)
	query.Set("code_challenge", codeChallenge)
	return "https://" + string(p.name) + ".test/authorize?" + query.Encode()
}

func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (*model.Claims, error) {
	p.mu.Lock()
	p.verifiers = append(p.verifiers, codeVerifier)
	p.mu.Unlock()
	return p.Verify(ctx, code)
}
