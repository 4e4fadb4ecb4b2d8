package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fluid-project/personal-data-server/internal/config"
	domainsso "github.com/fluid-project/personal-data-server/internal/domain/sso"
	"github.com/fluid-project/personal-data-server/internal/repository"
)

// Registry resolves a provider name to its credentials and endpoints.
type Registry struct {
	providers repository.ProviderRepository
	endpoints map[string]config.ProviderEndpoints
}

// NewRegistry builds a registry over the configured provider endpoints.
func NewRegistry(providers repository.ProviderRepository, cfg config.Config) *Registry {
	endpoints := make(map[string]config.ProviderEndpoints)
	for name, ep := range cfg.Providers() {
		endpoints[strings.ToLower(name)] = ep
	}
	return &Registry{providers: providers, endpoints: endpoints}
}

// Lookup returns the merged provider configuration. Unknown names wrap ErrProviderNotFound.
func (r *Registry) Lookup(ctx context.Context, name string) (domainsso.ProviderConfig, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	ep, ok := r.endpoints[key]
	if !ok || key == "" {
		return domainsso.ProviderConfig{}, fmt.Errorf("provider %q: %w", name, domainsso.ErrProviderNotFound)
	}

	row, err := r.providers.GetByName(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainsso.ProviderConfig{}, fmt.Errorf("provider %q has no client credentials: %w", name, domainsso.ErrProviderNotFound)
		}
		return domainsso.ProviderConfig{}, fmt.Errorf("load provider: %w", err)
	}

	return domainsso.ProviderConfig{
		ProviderID:   row.ID,
		Name:         row.Name,
		ClientID:     row.ClientID,
		ClientSecret: row.ClientSecret,
		AuthURL:      ep.AuthURL,
		TokenURL:     ep.TokenURL,
		UserInfoURL:  ep.UserInfoURL,
		RedirectURI:  ep.RedirectURI,
		Scopes:       append([]string{}, ep.Scopes...),
	}, nil
}
