package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/pkg/model"
)

// Registry holds all configured providers and allows lookup by name.
type Registry struct {
	adapters map[model.Provider]Adapter
}

// NewRegistry registers the given adapters by name. Later adapters replace
// earlier ones with the same name.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.Provider]Adapter)
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for p. Unknown or unconfigured providers are a
// ValidationFailed error.
func (r *Registry) Get(p model.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, model.ValidationFailed(fmt.Sprintf("provider %q is not enabled", p), nil)
	}
	return a, nil
}

// Redirect returns the adapter for p if it supports redirect logins.
func (r *Registry) Redirect(p model.Provider) (RedirectAdapter, error) {
	a, err := r.Get(p)
	if err != nil {
		return nil, err
	}
	ra, ok := a.(RedirectAdapter)
	if !ok {
		return nil, model.ValidationFailed(fmt.Sprintf("provider %q does not support redirect login", p), nil)
	}
	return ra, nil
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []model.Provider {
	names := make([]model.Provider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// FromConfig builds adapters for every provider with a client ID.
func FromConfig(ctx context.Context, cfg config.ProvidersConfig, opts ...Option) (*Registry, error) {
	if cfg.Timeout > 0 {
		opts = append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	}

	var adapters []Adapter
	if cfg.Google.Enabled() {
		adapters = append(adapters, NewGoogle(ctx, cfg.Google, opts...))
	}
	if cfg.GitHub.Enabled() {
		adapters = append(adapters, NewGitHub(cfg.GitHub, opts...))
	}
	if cfg.Apple.Enabled() {
		apple, err := NewApple(ctx, cfg.Apple, opts...)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, apple)
	}
	if cfg.Facebook.Enabled() {
		adapters = append(adapters, NewFacebook(cfg.Facebook, opts...))
	}
	if cfg.LinkedIn.Enabled() {
		adapters = append(adapters, NewLinkedIn(cfg.LinkedIn, opts...))
	}
	return NewRegistry(adapters...), nil
}
