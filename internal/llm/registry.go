package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
)

// Registry manages model provider clients and resolves names to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the provider used when nothing else matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[name]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewClient builds the HTTP client for one provider entry.
func NewClient(name string, p config.ProviderEntry) (Client, error) {
	switch p.API {
	case "anthropic":
		return NewClaudeAPIClient(p.BaseURL, p.APIKey, p.Model), nil
	case "openai":
		return NewOpenAIClient(name, p.BaseURL, p.APIKey, p.Model), nil
	case "ollama":
		return NewOllamaAPIClient(p.BaseURL, p.Model), nil
	default:
		return nil, fmt.Errorf("provider %q: unsupported api %q", name, p.API)
	}
}

// NewRegistryFromConfig registers every configured provider and makes the
// primary one the fallback. Each provider's model name is aliased to it.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := cfg.Providers[name]
		client, err := NewClient(name, p)
		if err != nil {
			return nil, err
		}
		reg.Register(name, client)
		if p.Model != "" {
			reg.Alias(p.Model, name)
		}
	}

	if cfg.Primary != "" {
		if _, ok := cfg.Providers[cfg.Primary]; !ok {
			return nil, fmt.Errorf("primary provider %q is not configured", cfg.Primary)
		}
		reg.SetFallback(cfg.Primary)
	}
	return reg, nil
}
