package providers

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"aigateway/config"
	"aigateway/internal/core"
)

// Builder creates a client for id from configuration
type Builder func(id core.ProviderID, cfg config.ProviderConfig, httpClient *http.Client) (Client, error)

var (
	registryMu sync.RWMutex
	// registry holds all registered client builders keyed by provider type
	registry = make(map[string]Builder)
)

// Register allows adapter packages to register themselves.
// This should be called from init() functions in adapter packages.
func Register(providerType string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = builder
}

// Create instantiates a client based on configuration
func Create(id core.ProviderID, cfg config.ProviderConfig, httpClient *http.Client) (Client, error) {
	registryMu.RLock()
	builder, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q for %s", cfg.Type, id)
	}
	return builder(id, cfg, httpClient)
}

// ListRegistered returns the registered provider types in sorted order
func ListRegistered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
