package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"aigateway/config"
	"aigateway/internal/core"
)

// Registry maps every ProviderID to its client.
type Registry struct {
	clients map[core.ProviderID]Client
}

// NewRegistry wraps prebuilt clients. Providers without a client are reported as
// unconfigured and fail every call with a configuration error.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[core.ProviderID]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ID()] = c
	}
	for _, p := range core.Providers() {
		if _, ok := r.clients[p]; !ok {
			r.clients[p] = missingClient{id: p}
		}
	}
	return r
}

// Build creates one client per configured provider.
func Build(cfgs map[string]config.ProviderConfig, httpClient *http.Client) (*Registry, error) {
	var clients []Client
	var errs []error
	for _, p := range core.Providers() {
		cfg, ok := cfgs[string(p)]
		if !ok {
			continue
		}
		c, err := Create(p, cfg, httpClient)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !c.Configured() {
			slog.Warn("provider has no API key, calls will fail", "provider", p, "type", cfg.Type)
		}
		clients = append(clients, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewRegistry(clients...), nil
}

// Get returns the client of p.
func (r *Registry) Get(p core.ProviderID) Client {
	if c, ok := r.clients[p]; ok {
		return c
	}
	return missingClient{id: p}
}

// Configured reports whether p has credentials.
func (r *Registry) Configured(p core.ProviderID) bool {
	return r.Get(p).Configured()
}

// missingClient stands in for a provider without configuration.
type missingClient struct {
	id core.ProviderID
}

func (m missingClient) ID() core.ProviderID { return m.id }
func (m missingClient) Model() string       { return "" }
func (m missingClient) Configured() bool    { return false }

func (m missingClient) Call(context.Context, core.Prompt) (*core.Completion, error) {
	return nil, core.NewConfigurationError(m.id, fmt.Sprintf("provider %s is not configured", m.id))
}
